package images

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Placeholders substituted into command arguments.
const (
	InputPlaceholder  = "{in}"
	OutputPlaceholder = "{out}"
)

// Command runs an external optimizer once per image, for example
// "cwebp -q 80 {in} -o {out}".
type Command struct {
	name string
	args []string
}

// NewCommand parses a command line. The line must name both placeholders.
func NewCommand(line string) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty image command")
	}
	if !strings.Contains(line, InputPlaceholder) || !strings.Contains(line, OutputPlaceholder) {
		return nil, fmt.Errorf("image command must contain %s and %s", InputPlaceholder, OutputPlaceholder)
	}

	c := &Command{name: fields[0], args: fields[1:]}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}
	return c, nil
}

// Compress runs the command for one image.
func (c *Command) Compress(ctx context.Context, src, dst string) error {
	args := make([]string, len(c.args))
	for i, arg := range c.args {
		arg = strings.ReplaceAll(arg, InputPlaceholder, src)
		args[i] = strings.ReplaceAll(arg, OutputPlaceholder, dst)
	}

	cmd := exec.CommandContext(ctx, c.name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s cancelled: %w", c.name, ctx.Err())
		}
		return fmt.Errorf("%s failed: %w\nOutput: %s", c.name, err, output)
	}
	return nil
}

// validate rejects shell metacharacters. The command is never run through
// a shell, so they can only be a mistake.
func (c *Command) validate() error {
	const dangerous = ";&|$`<>\"'\\"
	for _, part := range append([]string{c.name}, c.args...) {
		if strings.ContainsAny(part, dangerous) {
			return fmt.Errorf("invalid argument %q", part)
		}
	}
	return nil
}
