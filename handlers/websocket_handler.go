package handlers

import (
	"fmt"
	"log"
	"net/http"

	"github.com/Dosada05/darts-duel/middleware"
	"github.com/Dosada05/darts-duel/realtime"
	"github.com/Dosada05/darts-duel/services"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Мобильные клиенты не шлют браузерный Origin; проверка не нужна.
		return true
	},
}

type WebSocketHandler struct {
	hub          *realtime.Hub
	matchService services.MatchService
	jwtSecret    []byte
}

func NewWebSocketHandler(hub *realtime.Hub, matchService services.MatchService, jwtSecret string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:          hub,
		matchService: matchService,
		jwtSecret:    []byte(jwtSecret),
	}
}

// ServeWs подписывает клиента на мутации одного матча:
// GET /ws/matches/{matchID}?token=<jwt>. Токен передаётся в query, потому что
// браузерный и мобильный WebSocket API не дают выставить Authorization.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	matchID, err := uuid.Parse(chi.URLParam(r, "matchID"))
	if err != nil {
		http.Error(w, "invalid match id", http.StatusBadRequest)
		return
	}

	callerID, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Подписка фильтруется по конкретному матчу и только для его участников.
	ctx := middleware.WithUserID(r.Context(), callerID)
	if _, err := h.matchService.GetMatch(ctx, callerID, matchID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection for match %s: %v", matchID, err)
		return
	}

	client := &realtime.Client{
		Hub:  h.hub,
		Conn: conn,
		Send: make(chan []byte, 256),
		Room: realtime.MatchRoom(matchID.String()),
	}
	client.Hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

func (h *WebSocketHandler) authenticate(r *http.Request) (int, error) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		return 0, fmt.Errorf("missing token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid claims")
	}
	userIDFloat, ok := claims["user_id"].(float64)
	if !ok || userIDFloat <= 0 {
		return 0, fmt.Errorf("invalid user_id claim")
	}
	return int(userIDFloat), nil
}
