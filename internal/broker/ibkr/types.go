package ibkr

// TickleResponse is the broker's answer to a session keepalive.
type TickleResponse struct {
	Session    string `json:"session"`
	SSOExpires int64  `json:"ssoExpires"`
	Collision  bool   `json:"collission"`
	UserID     int64  `json:"userId"`
	IServer    struct {
		AuthStatus AuthStatus `json:"authStatus"`
	} `json:"iserver"`
}

// AuthStatus describes the brokerage session behind the OAuth session.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Competing     bool   `json:"competing"`
	Connected     bool   `json:"connected"`
	Message       string `json:"message"`
}

// Account is a portfolio account visible to the consumer.
type Account struct {
	ID          string `json:"id"`
	AccountID   string `json:"accountId"`
	Title       string `json:"accountTitle"`
	DisplayName string `json:"displayName"`
	Currency    string `json:"currency"`
	Type        string `json:"type"`
}
