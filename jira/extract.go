package jira

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// jiraTimeLayouts are the timestamp shapes the REST API emits. Due dates
// come as bare dates.
var jiraTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339,
	"2006-01-02",
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range jiraTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// extract flattens a wire envelope into a Ticket. mapping translates
// customfield ids to friendly names; nil skips custom field extraction.
func (c *Client) extract(env *issueEnvelope, mapping map[string]string) (*Ticket, error) {
	var f issueFields
	if err := json.Unmarshal(env.Fields, &f); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}

	t := &Ticket{
		Key:         env.Key,
		Summary:     f.Summary,
		Description: f.Description,
		Status:      nameOf(f.Status),
		Type:        nameOf(f.IssueType),
		Priority:    nameOf(f.Priority),
		Resolution:  nameOf(f.Resolution),
		Assignee:    extractUser(f.Assignee),
		Reporter:    extractUser(f.Reporter),
		Creator:     extractUser(f.Creator),
		Created:     parseTime(f.Created),
		Updated:     parseTime(f.Updated),
		Resolved:    parseTime(f.ResolutionDate),
		Due:         parseTime(f.DueDate),
		Labels:      f.Labels,
		URL:         c.base + "/browse/" + env.Key,
	}

	if html, ok := env.RenderedFields["description"]; ok {
		t.RenderedDescription = html
	}

	for _, comp := range f.Components {
		t.Components = append(t.Components, comp.Name)
	}
	for _, v := range f.FixVersions {
		t.FixVersions = append(t.FixVersions, v.Name)
	}
	for _, v := range f.Versions {
		t.AffectsVersions = append(t.AffectsVersions, v.Name)
	}

	if f.Parent != nil {
		t.Parent = f.Parent.Key
	}
	for _, sub := range f.Subtasks {
		t.Subtasks = append(t.Subtasks, sub.Key)
	}

	if f.Comment != nil {
		for _, wc := range f.Comment.Comments {
			t.Comments = append(t.Comments, Comment{
				Author:  extractUser(wc.Author),
				Body:    wc.Body,
				Created: parseTime(wc.Created),
				Updated: parseTime(wc.Updated),
			})
		}
	}

	for _, wa := range f.Attachment {
		t.Attachments = append(t.Attachments, Attachment{
			Filename: wa.Filename,
			Size:     wa.Size,
			MimeType: wa.MimeType,
			URL:      wa.Content,
			Created:  parseTime(wa.Created),
		})
	}

	for _, wl := range f.IssueLinks {
		link := Link{Type: wl.Type.Name}
		switch {
		case wl.OutwardIssue != nil:
			link.Direction = "outward"
			link.Key = wl.OutwardIssue.Key
			link.Summary = wl.OutwardIssue.Fields.Summary
		case wl.InwardIssue != nil:
			link.Direction = "inward"
			link.Key = wl.InwardIssue.Key
			link.Summary = wl.InwardIssue.Fields.Summary
		default:
			continue
		}
		t.Links = append(t.Links, link)
	}

	if len(mapping) > 0 {
		t.CustomFields = extractCustom(env.Fields, mapping)
	}

	return t, nil
}

func nameOf(n *named) string {
	if n == nil {
		return ""
	}
	return n.Name
}

func extractUser(u *wireUser) *User {
	if u == nil {
		return nil
	}
	name := u.DisplayName
	if name == "" {
		name = u.Name
	}
	if name == "" {
		name = "Unknown"
	}
	return &User{Name: name, Email: u.EmailAddress}
}

// extractCustom pulls non-null customfield_* values out of the raw fields
// object and stringifies them under their friendly names.
func extractCustom(raw json.RawMessage, mapping map[string]string) map[string]string {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil
	}

	out := make(map[string]string)
	for id, name := range mapping {
		val, ok := all[id]
		if !ok || string(val) == "null" {
			continue
		}
		if s := stringifyValue(val); s != "" {
			out[name] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// stringifyValue renders an arbitrary JSON value as display text. Objects
// collapse to their "value", "name" or "displayName" member when present.
func stringifyValue(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return stringify(v)
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		for _, key := range []string{"value", "name", "displayName"} {
			if s, ok := x[key].(string); ok && s != "" {
				return s
			}
		}
		// Fall back to stable key=value rendering.
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+stringify(x[k]))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%v", x)
	}
}
