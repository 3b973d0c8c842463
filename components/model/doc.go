// Package model 对话模型组件的接口、调用选项与回调载荷。
//
// 具体实现位于子包：openai 直接调用 OpenAI 兼容的 Chat Completions 接口，
// langchain 把任意 langchaingo 模型适配为 BaseChatModel。
package model
