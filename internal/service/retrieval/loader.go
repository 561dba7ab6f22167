package retrieval

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/thutuc-assistant/rag-chat/backend/internal/model/knowledge"
)

type rawDocument struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Text       string `json:"text"`
	Hierarchy  string `json:"hierarchy"`
	URL        string `json:"url"`
	SourceFile string `json:"source_file"`
}

// LoadDocuments decodes the normalized procedures file: a JSON array of
// chunks carrying either "content" or "text". Records without text are
// skipped; records without an id get one derived from their content.
func LoadDocuments(r io.Reader) ([]knowledge.Document, error) {
	var raw []rawDocument
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}

	docs := make([]knowledge.Document, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		content := strings.TrimSpace(item.Content)
		if content == "" {
			content = strings.TrimSpace(item.Text)
		}
		if content == "" {
			continue
		}

		id := strings.TrimSpace(item.ID)
		if id == "" {
			id = contentID(item.Hierarchy, content)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		docs = append(docs, knowledge.Document{
			ID:         id,
			Content:    content,
			Hierarchy:  strings.TrimSpace(item.Hierarchy),
			URL:        strings.TrimSpace(item.URL),
			SourceFile: strings.TrimSpace(item.SourceFile),
		})
	}
	return docs, nil
}

func contentID(hierarchy, content string) string {
	sum := sha1.Sum([]byte(hierarchy + "\x00" + content))
	return hex.EncodeToString(sum[:])
}
