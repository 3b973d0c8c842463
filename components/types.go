package components

// Typer 组件可选实现，返回实现类型名称（如 "OpenAI"），用于回调中的 RunInfo.Type。
// 建议采用驼峰命名。
type Typer interface {
	GetType() string
}

// GetType 返回组件的实现类型名称。
func GetType(component any) (string, bool) {
	if typer, ok := component.(Typer); ok {
		return typer.GetType(), true
	}
	return "", false
}

// Checker 组件可选实现。IsCallbacksEnabled 返回 true 时组件自行触发回调，
// compose 不再为其包裹回调。
type Checker interface {
	IsCallbacksEnabled() bool
}

// IsCallbacksEnabled 判断组件是否自行触发回调。
func IsCallbacksEnabled(i any) bool {
	if checker, ok := i.(Checker); ok {
		return checker.IsCallbacksEnabled()
	}
	return false
}

// Component 组件类别。
type Component string

const (
	ComponentOfPrompt    Component = "ChatTemplate"
	ComponentOfChatModel Component = "ChatModel"
	ComponentOfEmbedding Component = "Embedding"
	ComponentOfIndexer   Component = "Indexer"
	ComponentOfRetriever Component = "Retriever"
	ComponentOfParser    Component = "OutputParser"
)
