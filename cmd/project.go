package cmd

import (
	"github.com/spf13/pflag"

	"github.com/hotovec/mails/internal/config"
)

// projectValue is the --project flag. It rejects names that would leave
// the projects root when the flag is parsed rather than at build time.
type projectValue struct {
	name string
}

var _ pflag.Value = (*projectValue)(nil)

func newProjectValue() *projectValue {
	return &projectValue{name: config.DefaultProject}
}

func (p *projectValue) String() string { return p.name }

func (p *projectValue) Set(name string) error {
	if err := config.ValidateProjectName(name); err != nil {
		return err
	}
	p.name = name
	return nil
}

func (p *projectValue) Type() string { return "name" }
