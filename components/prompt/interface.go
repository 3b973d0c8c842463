package prompt

import (
	"context"

	"github.com/favbox/eino-chains/schema"
)

var _ ChatTemplate = &DefaultChatTemplate{}

// ChatTemplate 把变量映射格式化为消息列表。缺失变量返回 *schema.FormatError。
type ChatTemplate interface {
	Format(ctx context.Context, vs map[string]any, opts ...Option) ([]*schema.Message, error)
}
