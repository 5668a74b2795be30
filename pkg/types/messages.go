package types

// Client -> Server (websocket)
// join:  { "type": "join", "player"?: string, "minutes"?: number }
// leave: { "type": "leave", "player"?: string }
// ready: { "type": "ready", "player"?: string, "minutes"?: number }
// vote:  { "type": "vote", "player"?: string, "map": string }
//
// player defaults to the one given on the connection (?player=).

// Server -> Client
// SessionSnapshot: { "type", "version", "session": SessionView } ; session omitted once the pug ended
// ChannelMessage:  { "type", "channel", "text", "mentions"? }
// DirectMessage:   { "type", "player", "text" }
// Error:           { "type": "Error", "error": string }

type ErrorResponse struct {
	Error string `json:"error"`
}

type ModeResponse struct {
	Name     string   `json:"name"`
	Capacity int      `json:"capacity"`
	Maps     []string `json:"maps"`
}
