package playbook

// Special tags with filtering semantics of their own.
const (
	// TagAlways runs the task regardless of --tags unless explicitly skipped.
	TagAlways = "always"
	// TagNever runs the task only when one of its tags is explicitly requested.
	TagNever = "never"
	// TagAll / TagTagged / TagUntagged are selectors, never declared on tasks.
	TagAll      = "all"
	TagTagged   = "tagged"
	TagUntagged = "untagged"
)

// TagFilter decides which tasks run for a given --tags/--skip-tags request.
type TagFilter struct {
	Select []string
	Skip   []string
}

// ShouldRun applies the filter to a task's effective tag set. Skip always
// wins over select.
func (f TagFilter) ShouldRun(tags []string) bool {
	effective := tags
	untagged := len(nonSpecial(tags)) == 0 && !has(tags, TagAlways) && !has(tags, TagNever)

	selected := f.selects(effective, untagged)
	if !selected {
		return false
	}
	return !f.skips(effective, untagged)
}

func (f TagFilter) selects(tags []string, untagged bool) bool {
	sel := f.Select
	if len(sel) == 0 {
		sel = []string{TagAll}
	}
	switch {
	case has(tags, TagAlways):
		return true
	case has(sel, TagAll) && !has(tags, TagNever):
		return true
	case intersects(tags, sel):
		return true
	case has(sel, TagTagged) && !untagged && !has(tags, TagNever):
		return true
	case has(sel, TagUntagged) && untagged:
		return true
	}
	return false
}

func (f TagFilter) skips(tags []string, untagged bool) bool {
	switch {
	case len(f.Skip) == 0:
		return false
	case intersects(tags, f.Skip):
		return true
	case has(f.Skip, TagAll) && !has(tags, TagAlways):
		return true
	case has(f.Skip, TagTagged) && !untagged:
		return true
	case has(f.Skip, TagUntagged) && untagged:
		return true
	}
	return false
}

func has(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if has(b, x) {
			return true
		}
	}
	return false
}

func nonSpecial(tags []string) []string {
	var out []string
	for _, t := range tags {
		switch t {
		case TagAlways, TagNever, TagAll, TagTagged, TagUntagged:
		default:
			out = append(out, t)
		}
	}
	return out
}
