package domain

// Notification is a reminder as shown to the user. It carries one labeled
// button per quick-snooze option and is auto-cleared after TimeoutMs.
type Notification struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	IconURL   string   `json:"iconUrl,omitempty"`
	Buttons   []string `json:"buttons"`
	Silent    bool     `json:"silent"`
	TimeoutMs int      `json:"timeoutMs"`
	IsError   bool     `json:"isError,omitempty"`
}
