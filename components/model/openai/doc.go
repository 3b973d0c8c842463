// Package openai OpenAI Chat Completions 协议的对话模型实现。
//
// 兼容 OpenAI、Azure OpenAI（经网关）、Ollama、vLLM、DeepSeek 等提供相同接口的服务：
//
//	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
//		APIKey:  os.Getenv("OPENAI_API_KEY"),
//		Model:   "gpt-4o-mini",
//	})
//	msg, err := cm.Generate(ctx, []*schema.Message{schema.UserMessage("hi")})
//
// 网络与鉴权失败返回 *schema.TransportError，限流与 5xx 按 MaxRetries 重试。
package openai
