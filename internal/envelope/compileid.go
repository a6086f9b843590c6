package envelope

import (
	"fmt"
	"strings"
)

// CompileID identifies one compilation attempt within a rank. All four parts
// are optional in the log; runtime-only records often omit the attempt.
type CompileID struct {
	CompiledAutogradID *uint32 `json:"compiled_autograd_id,omitempty"`
	FrameID            *uint32 `json:"frame_id,omitempty"`
	FrameCompileID     *uint32 `json:"frame_compile_id,omitempty"`
	Attempt            *uint32 `json:"attempt,omitempty"`
}

// Normalize collapses entries without an attempt into attempt 0 so that
// runtime records and compile-time records for the same attempt share one
// directory bucket. Calling it more than once is a no-op.
func (c *CompileID) Normalize() {
	if c.FrameCompileID != nil && c.Attempt == nil {
		zero := uint32(0)
		c.Attempt = &zero
	}
}

func part(v *uint32) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

// DirectoryName returns the filesystem-safe form of the id, used both as the
// per-compile output subdirectory and as the directory bucket key.
func (c *CompileID) DirectoryName() string {
	return strings.Join([]string{
		part(c.CompiledAutogradID),
		part(c.FrameID),
		part(c.FrameCompileID),
		part(c.Attempt),
	}, "_")
}

// String renders the human-readable form, e.g. [0/0], [0/1_2] or [!3/0/0].
func (c *CompileID) String() string {
	var b strings.Builder
	b.WriteString("[")
	if c.CompiledAutogradID != nil {
		fmt.Fprintf(&b, "!%d/", *c.CompiledAutogradID)
	}
	fmt.Fprintf(&b, "%s/%s", part(c.FrameID), part(c.FrameCompileID))
	if c.Attempt != nil && *c.Attempt != 0 {
		fmt.Fprintf(&b, "_%d", *c.Attempt)
	}
	b.WriteString("]")
	return b.String()
}
