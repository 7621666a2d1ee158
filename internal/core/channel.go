package core

// ChannelInfo is the per-channel view returned by the channel endpoints:
// metadata plus live job counts.
type ChannelInfo struct {
	Name       string `json:"name"`
	Paused     bool   `json:"paused"`
	Queued     int    `json:"queued"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
}
