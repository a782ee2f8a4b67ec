package embed

// Palette maps notification categories to RGB colors encoded as integers.
type Palette struct {
	IssueOpened         int `yaml:"issue_opened"`
	IssueClosed         int `yaml:"issue_closed"`
	IssueComment        int `yaml:"issue_comment"`
	Commit              int `yaml:"commit"`
	Release             int `yaml:"release"`
	MergeRequestOpened  int `yaml:"merge_request_opened"`
	MergeRequestClosed  int `yaml:"merge_request_closed"`
	MergeRequestComment int `yaml:"merge_request_comment"`
	Default             int `yaml:"default"`
	Error               int `yaml:"error"`
	Status              int `yaml:"status"`
}

func DefaultPalette() Palette {
	return Palette{
		IssueOpened:         15426592, // orange
		IssueClosed:         5198940,  // grey
		IssueComment:        15109472, // pale orange
		Commit:              7506394,  // blue
		Release:             2530048,  // green
		MergeRequestOpened:  12856621, // red
		MergeRequestClosed:  2530048,  // green
		MergeRequestComment: 15749300, // pink
		Default:             5198940,  // grey
		Error:               16773120, // yellow
		Status:              3447003,
	}
}

// withDefaults fills unset entries. Zero is black, which nobody configures on
// purpose, so it is treated as unset.
func (p Palette) withDefaults() Palette {
	d := DefaultPalette()
	fill := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	fill(&p.IssueOpened, d.IssueOpened)
	fill(&p.IssueClosed, d.IssueClosed)
	fill(&p.IssueComment, d.IssueComment)
	fill(&p.Commit, d.Commit)
	fill(&p.Release, d.Release)
	fill(&p.MergeRequestOpened, d.MergeRequestOpened)
	fill(&p.MergeRequestClosed, d.MergeRequestClosed)
	fill(&p.MergeRequestComment, d.MergeRequestComment)
	fill(&p.Default, d.Default)
	fill(&p.Error, d.Error)
	fill(&p.Status, d.Status)
	return p
}
