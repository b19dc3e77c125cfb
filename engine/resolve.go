package engine

import "strings"

// Reserved field selectors. Anything else is a mail header name.
const (
	SelectorPath           = "@path"
	SelectorTags           = "@tags"
	SelectorThreadTags     = "@thread-tags"
	SelectorAttachment     = "@attachment"
	SelectorAttachmentBody = "@attachment-body"
	SelectorBody           = "@body"
)

func reservedSelector(s string) bool {
	switch s {
	case SelectorPath, SelectorTags, SelectorThreadTags,
		SelectorAttachment, SelectorAttachmentBody, SelectorBody:
		return true
	}
	return false
}

// resolveField maps a selector to the values it yields for this message. A
// selector may yield multiple values (repeated headers, attachment names);
// an absent header or missing attachment yields an empty slice, not an
// error. Resolution is read-only, though @tags reflects mutations made by
// filters that matched earlier in this pass.
func resolveField(v *View, selector string) ([]string, error) {
	switch selector {
	case SelectorPath:
		return []string{v.msg.Path()}, nil

	case SelectorTags:
		return v.tags.List(), nil

	case SelectorThreadTags:
		return v.threadTags, nil

	case SelectorBody:
		body, err := v.msg.Body()
		if err != nil {
			return nil, err
		}
		return []string{body}, nil

	case SelectorAttachment:
		atts, err := v.msg.Attachments()
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(atts))
		for _, a := range atts {
			if a.Filename != "" {
				names = append(names, a.Filename)
			}
		}
		return names, nil

	case SelectorAttachmentBody:
		atts, err := v.msg.Attachments()
		if err != nil {
			return nil, err
		}
		var bodies []string
		for _, a := range atts {
			if strings.HasPrefix(a.ContentType, "text") {
				bodies = append(bodies, a.Body)
			}
		}
		return bodies, nil

	default:
		return v.msg.Header(selector)
	}
}
