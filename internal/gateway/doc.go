// Package gateway wires assistant-gateway together and serves it over HTTP.
//
// # Overview
//
// New builds every component from config:
//
//   - store.ConversationStore chosen by store.driver (sqlite, bolt, mongo)
//   - assistant.OpenAIBackend for OpenAI or Azure OpenAI
//   - tools.Registry with the builtin tools
//   - titles.Summarizer chosen by titles.provider (assistant, ollama)
//   - conversation.Service on top of those
//   - realtime.Hub exposing the service over websockets
//
// NewWithComponents accepts prebuilt replacements, which is how tests inject
// store.MockStore and assistant.MockBackend.
//
// # Routes
//
//	GET    /chatHub                           websocket hub
//	POST   /api/files/upload                  multipart "files" -> {filename: fileId}
//	GET    /api/conversations                 newest first
//	GET    /api/conversations/{id}/messages   oldest first, with rendered HTML
//	DELETE /api/conversations/{id}            {"deleted": bool}
//	GET    /health                            liveness
//	GET    /health/ready                      store ping
//	GET    /                                  embedded web client
//
// Errors are JSON objects of the form {"error": "..."}.
//
// # Listeners
//
// Without tailscale the server listens on server.http_addr. With tailscale
// enabled a tsnet node is started and the server listens on :80, on :443 with
// tailnet certificates (tailscale.https), or on a public Funnel
// (tailscale.funnel).
//
// # Shutdown
//
// Shutdown stops the HTTP server, closes websocket clients, waits for running
// invocations up to the context deadline, then closes the tailscale node and
// the store.
package gateway
