package classifier

import (
	"html"
	"regexp"
	"strings"

	"basegraph.app/intake/internal/model"
)

var htmlTag = regexp.MustCompile(`<[^>]+>`)

// ClassificationText extracts the part of an event worth classifying.
func ClassificationText(event *model.IntakeEvent) string {
	body := event.Content
	switch event.ContentType {
	case model.ContentTypeHTML:
		body = html.UnescapeString(htmlTag.ReplaceAllString(body, " "))
	case model.ContentTypeText, model.ContentTypeMarkdown, model.ContentTypeTranscript:
	}

	switch event.Type {
	case model.EventTypeEmail:
		body = stripQuotedReply(body)
		if subject := event.MetadataString("subject"); subject != "" {
			body = subject + "\n" + body
		}
	case model.EventTypeMessage, model.EventTypeNote, model.EventTypeVoiceMemo:
	}

	return strings.TrimSpace(body)
}

// stripQuotedReply drops quoted lines and everything after a signature delimiter.
func stripQuotedReply(body string) string {
	var kept []string
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimRight(line, "\r") == "-- " {
			break
		}
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func eventContext(event *model.IntakeEvent) string {
	var parts []string
	parts = append(parts, "type="+string(event.Type))
	if from := event.MetadataString("from"); from != "" {
		parts = append(parts, "from="+from)
	}
	if source := event.MetadataString("source"); source != "" {
		parts = append(parts, "source="+source)
	}
	return strings.Join(parts, " ")
}
