package config

import "path/filepath"

// Layout is the resolved file tree of one project: where sources are read
// from and where output is written.
type Layout struct {
	Project string
	Src     string
	Dst     string
}

// NewLayout resolves the source and destination roots for project.
func NewLayout(projectsRoot, distRoot, project string) Layout {
	return Layout{
		Project: project,
		Src:     filepath.Join(projectsRoot, project),
		Dst:     filepath.Join(distRoot, project),
	}
}

func (l Layout) PagesDir() string    { return filepath.Join(l.Src, "pages") }
func (l Layout) LayoutsDir() string  { return filepath.Join(l.Src, "layouts") }
func (l Layout) PartialsDir() string { return filepath.Join(l.Src, "partials") }
func (l Layout) HelpersDir() string  { return filepath.Join(l.Src, "helpers") }
func (l Layout) StylesDir() string   { return filepath.Join(l.Src, "assets", "scss") }
func (l Layout) ImagesDir() string   { return filepath.Join(l.Src, "assets", "img") }

// DstCSSDir is where the compiled bundle is written.
func (l Layout) DstCSSDir() string { return filepath.Join(l.Dst, "css") }

// DstImagesDir is where processed images are written.
func (l Layout) DstImagesDir() string { return filepath.Join(l.Dst, "assets", "img") }
