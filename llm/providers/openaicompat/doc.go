// Package openaicompat implements llm.Provider for any OpenAI-compatible
// chat completions endpoint.
//
// Vendors that speak the OpenAI wire format (OpenAI, DeepSeek, Qwen, Ollama,
// vLLM, LM Studio) differ only in what is configuration here:
//
//   - Provider name and default model
//   - Base URL and endpoint path
//   - Custom headers (if any)
//   - Request hooks for provider-specific fields
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "deepseek",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.deepseek.com",
//	    DefaultModel: "deepseek-chat",
//	}, logger)
//	client := llm.NewClient(p, llm.ClientConfig{Model: "deepseek-chat"})
package openaicompat
