package github

// Repository is the subset of repository metadata reviewbot uses.
type Repository struct {
	FullName      string `json:"full_name"`
	Name          string `json:"name"`
	Owner         string `json:"owner"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
	Language      string `json:"language"`
	HTMLURL       string `json:"html_url"`
}

// PullRequest is pull-request metadata.
type PullRequest struct {
	Number       int    `json:"number"`
	Title        string `json:"title"`
	State        string `json:"state"`
	Author       string `json:"author"`
	HeadRef      string `json:"head_ref"`
	HeadSHA      string `json:"head_sha"`
	BaseRef      string `json:"base_ref"`
	ChangedFiles int    `json:"changed_files"`
	HTMLURL      string `json:"html_url"`
}

// PullRequestFile is one changed file in a pull request, with its patch.
type PullRequestFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	Patch     string `json:"patch"`
}

// FileStatusRemoved is the status GitHub reports for deleted files.
const FileStatusRemoved = "removed"

// FileContent is a file's decoded text plus its blob SHA, the token that
// guards optimistic writes.
type FileContent struct {
	Path    string
	Content string
	SHA     string
}

// Issue is a repository issue.
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
}

// ReviewEvent is the GitHub review event name.
type ReviewEvent string

const (
	ReviewEventApprove        ReviewEvent = "APPROVE"
	ReviewEventRequestChanges ReviewEvent = "REQUEST_CHANGES"
	ReviewEventComment        ReviewEvent = "COMMENT"
)
