package jira

import (
	"encoding/json"
	"time"
)

// Ticket is the flattened view of a Jira issue that the rest of tickmd
// consumes. Optional fields are zero-valued when absent; pointer fields
// distinguish "no user" from an empty user.
type Ticket struct {
	Key         string
	Summary     string
	Description string
	// RenderedDescription is the tracker-rendered HTML of the description,
	// present when the issue was fetched with rendered fields expanded.
	RenderedDescription string
	Status              string
	Type                string
	Priority            string
	Resolution          string

	Assignee *User
	Reporter *User
	Creator  *User

	Created  time.Time
	Updated  time.Time
	Resolved time.Time
	Due      time.Time

	Labels          []string
	Components      []string
	FixVersions     []string
	AffectsVersions []string

	Parent   string
	Subtasks []string

	Comments    []Comment
	Attachments []Attachment
	Links       []Link

	// CustomFields maps friendly field names (resolved via the field
	// catalogue) to stringified values.
	CustomFields map[string]string

	// URL is the human-facing browse URL of the issue.
	URL string
}

// User is a tracker account reference.
type User struct {
	Name  string
	Email string
}

// Comment is one issue comment.
type Comment struct {
	Author  *User
	Body    string
	Created time.Time
	Updated time.Time
}

// Attachment describes an uploaded file on an issue. URL is the
// authenticated content endpoint, not a browse page.
type Attachment struct {
	Filename string
	Size     int64
	MimeType string
	URL      string
	Created  time.Time
}

// Link is a typed relation to another issue.
type Link struct {
	Type      string
	Direction string // "inward" or "outward"
	Key       string
	Summary   string
}

// Field is one entry of the tracker field catalogue.
type Field struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Custom bool   `json:"custom"`
}

// --- wire format ---

// issueEnvelope keeps the fields object raw so it can be decoded twice:
// once into the typed struct and once into a generic map for custom fields.
type issueEnvelope struct {
	Key            string            `json:"key"`
	Fields         json.RawMessage   `json:"fields"`
	RenderedFields map[string]string `json:"renderedFields"`
}

type issueFields struct {
	Summary        string       `json:"summary"`
	Description    string       `json:"description"`
	Status         *named       `json:"status"`
	IssueType      *named       `json:"issuetype"`
	Priority       *named       `json:"priority"`
	Resolution     *named       `json:"resolution"`
	Assignee       *wireUser    `json:"assignee"`
	Reporter       *wireUser    `json:"reporter"`
	Creator        *wireUser    `json:"creator"`
	Created        string       `json:"created"`
	Updated        string       `json:"updated"`
	ResolutionDate string       `json:"resolutiondate"`
	DueDate        string       `json:"duedate"`
	Labels         []string     `json:"labels"`
	Components     []named      `json:"components"`
	FixVersions    []named      `json:"fixVersions"`
	Versions       []named      `json:"versions"`
	Parent         *issueRef    `json:"parent"`
	Subtasks       []issueRef   `json:"subtasks"`
	Comment        *commentPage `json:"comment"`
	Attachment     []wireAttach `json:"attachment"`
	IssueLinks     []wireLink   `json:"issuelinks"`
}

type named struct {
	Name string `json:"name"`
}

type wireUser struct {
	DisplayName  string `json:"displayName"`
	Name         string `json:"name"`
	EmailAddress string `json:"emailAddress"`
}

type issueRef struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
	} `json:"fields"`
}

type commentPage struct {
	Comments []wireComment `json:"comments"`
}

type wireComment struct {
	Author  *wireUser `json:"author"`
	Body    string    `json:"body"`
	Created string    `json:"created"`
	Updated string    `json:"updated"`
}

type wireAttach struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Content  string `json:"content"`
	Created  string `json:"created"`
}

type wireLink struct {
	Type struct {
		Name string `json:"name"`
	} `json:"type"`
	OutwardIssue *issueRef `json:"outwardIssue"`
	InwardIssue  *issueRef `json:"inwardIssue"`
}

type searchPage struct {
	StartAt    int             `json:"startAt"`
	MaxResults int             `json:"maxResults"`
	Total      int             `json:"total"`
	Issues     []issueEnvelope `json:"issues"`
}

type serverInfo struct {
	Version    string `json:"version"`
	ServerTime string `json:"serverTime"`
}

type myself struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}
