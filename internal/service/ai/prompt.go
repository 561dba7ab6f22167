package ai

import (
	"strings"

	"github.com/thutuc-assistant/rag-chat/backend/internal/model/knowledge"
)

// RefusalMessage is emitted verbatim when no context supports an answer.
// Meaning: "Sorry! Your question is outside the scope of what I can help with."
const RefusalMessage = "Xin lỗi! Câu hỏi của bạn không nằm trong phạm vi hỗ trợ của tôi."

const (
	missingLabel = "N/A"
	missingURL   = "no source"
)

const systemInstruction = `Bạn là trợ lý tư vấn thủ tục hành chính công của Việt Nam.
Bạn chỉ trả lời câu hỏi.
KHÔNG được viết lại, diễn đạt lại hay sửa đổi câu hỏi của người dùng.
KHÔNG nhắc lại câu hỏi.
PHẠM VI ÁP DỤNG:
- Ưu tiên tư vấn các thủ tục hành chính liên quan đến trẻ em dưới 6 tuổi.
- Nếu CONTEXT không đề cập rõ độ tuổi nhưng nội dung thuộc thủ tục thường áp dụng cho trẻ em,
  bạn được phép trả lời dựa trên thông tin hiện có và nêu rõ phạm vi áp dụng nếu được đề cập.

NGUYÊN TẮC TRẢ LỜI:
- Chỉ sử dụng thông tin có trong CONTEXT bên dưới.
- Không sử dụng kiến thức bên ngoài.
- Không tự bổ sung thông tin không có trong CONTEXT.

CÁCH TRẢ LỜI:
- Chỉ trả lời các nội dung LIÊN QUAN TRỰC TIẾP đến câu hỏi.
- Có thể tổng hợp nhiều đoạn trong CONTEXT nếu chúng cùng mô tả một thủ tục.
- Trình bày ngắn gọn, rõ ràng, đúng trọng tâm.

TRƯỜNG HỢP KHÔNG TRẢ LỜI:
Chỉ trả lời đúng câu sau nếu CONTEXT hoàn toàn không chứa thông tin liên quan đến câu hỏi.
Câu trả lời trong trường hợp này PHẢI CHÍNH XÁC:
"` + RefusalMessage + `"

YÊU CẦU ĐỊNH DẠNG:
- Trả lời bằng tiếng Việt.
- Nếu có nhiều ý, trình bày bằng gạch đầu dòng hoặc đánh số.
- Giữ nguyên trích dẫn nguồn nếu có trong CONTEXT.`

const formatDirective = "Trả lời bằng tiếng Việt, có đánh số nếu là danh sách, và trích dẫn nguồn rõ ràng (tên block, URL):"

// FormatChunk renders one chunk as "[label]\ntext\n(Source: url)".
func FormatChunk(chunk knowledge.Chunk) string {
	label := strings.TrimSpace(chunk.SourceLabel)
	if label == "" {
		label = missingLabel
	}
	url := strings.TrimSpace(chunk.SourceURL)
	if url == "" {
		url = missingURL
	}
	return "[" + label + "]\n" + chunk.Text + "\n(Source: " + url + ")"
}

// FormatContext joins chunks with a blank line, keeping retrieval order.
func FormatContext(chunks []knowledge.Chunk) string {
	parts := make([]string, len(chunks))
	for i, chunk := range chunks {
		parts[i] = FormatChunk(chunk)
	}
	return strings.Join(parts, "\n\n")
}

// BuildPrompt assembles the single instruction string sent to the model.
// The question is embedded unchanged.
func BuildPrompt(chunks []knowledge.Chunk, question string) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\nContext:\n")
	b.WriteString(FormatContext(chunks))
	b.WriteString("\n\nCâu hỏi: ")
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString(formatDirective)
	b.WriteString("\n")
	return b.String()
}
