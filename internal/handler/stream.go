package handler

import (
	"net/http"
	"sync"
	"time"

	"qfs/internal/auth"
	"qfs/internal/docstore"
	"qfs/internal/domain"
	"qfs/internal/ledger"
	"qfs/internal/withdrawal"
	"qfs/pkg/logger"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now (CORS)
	},
}

// StreamHandler pushes live document updates over one websocket: the
// caller's profile, transaction history, and withdrawal case. Clients
// subscribe by connecting and unsubscribe by closing, mirroring the
// screens that show these views.
type StreamHandler struct {
	auth       *auth.Service
	ledger     *ledger.Service
	withdrawal *withdrawal.Service
	logger     logger.Logger
}

func NewStreamHandler(authSvc *auth.Service, ledgerSvc *ledger.Service, withdrawalSvc *withdrawal.Service, log logger.Logger) *StreamHandler {
	return &StreamHandler{
		auth:       authSvc,
		ledger:     ledgerSvc,
		withdrawal: withdrawalSvc,
		logger:     log,
	}
}

type streamMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Serve upgrades the connection and streams updates until the client
// disconnects. Browsers cannot set headers on websocket dials, so the
// token arrives as a query parameter.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	identity, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	h.logger.Info("WebSocket client connected", map[string]interface{}{
		"user_id": identity.UserID.String(),
	})

	// Writes come from several subscription callbacks; serialize them.
	var writeMu sync.Mutex
	send := func(msgType string, data interface{}) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(streamMessage{
			Type:      msgType,
			Timestamp: time.Now().UTC(),
			Data:      data,
		})
	}

	var subs []docstore.Subscription
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	userSub, err := h.ledger.SubscribeBalance(r.Context(), identity.UserID, func(p *domain.Profile) {
		send("user", p)
	})
	if err != nil {
		h.logger.Error("Profile subscription failed", map[string]interface{}{"error": err.Error()})
		return
	}
	subs = append(subs, userSub)

	txSub, err := h.ledger.SubscribeTransactions(r.Context(), identity.UserID, func(txs []*domain.Transaction) {
		send("transactions", txs)
	})
	if err != nil {
		h.logger.Error("Transactions subscription failed", map[string]interface{}{"error": err.Error()})
		return
	}
	subs = append(subs, txSub)

	caseSub, err := h.withdrawal.Subscribe(r.Context(), identity.UserID, func(c *domain.WithdrawalCase) {
		send("withdrawal", c)
	})
	if err != nil {
		h.logger.Error("Withdrawal subscription failed", map[string]interface{}{"error": err.Error()})
		return
	}
	subs = append(subs, caseSub)

	// Read loop exists only to notice the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Info("WebSocket client disconnected", map[string]interface{}{
				"user_id": identity.UserID.String(),
			})
			return
		}
	}
}
