package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cryptotrader/internal/metrics"
	"cryptotrader/logger"
	"cryptotrader/models"
	"cryptotrader/stream"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// tradeSocket is the control connection. Clients manage subscriptions with
// JSON commands and receive every stream they subscribed to on this socket.
func (s *Server) tradeSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithComponent("server").WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := s.hub.NewClient(conn)
	s.hub.Register(client)
	defer func() {
		s.mux.UnsubscribeAll(client.ID)
		s.hub.Unregister(client.ID)
	}()

	log := s.log.WithComponent("server").WithFields(logger.Fields{
		"client_id": client.ID,
		"endpoint":  "trade",
	})

	s.hub.Send(client, models.ConnectionMessage{
		Type:      "connection",
		Status:    "connected",
		Timestamp: time.Now().UnixMilli(),
	})

	commands := make(chan models.Command)
	go s.readCommands(conn, client, commands)

	heartbeat := s.config.Server.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	timer := time.NewTimer(heartbeat)
	defer timer.Stop()

	for {
		select {
		case cmd, ok := <-commands:
			if !ok {
				log.Debug("client read loop ended")
				return
			}
			s.handleCommand(client, cmd)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(heartbeat)
		case <-timer.C:
			s.hub.Send(client, models.HeartbeatMessage{Type: "heartbeat", Timestamp: time.Now().UnixMilli()})
			timer.Reset(heartbeat)
		case <-client.Done():
			return
		}
	}
}

// readCommands feeds decoded commands from the socket into the session
// loop. Malformed JSON earns the client an error message but keeps the
// connection alive, transport errors end the loop.
func (s *Server) readCommands(conn *websocket.Conn, client *stream.Client, commands chan<- models.Command) {
	defer close(commands)

	for {
		var cmd models.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.hub.Send(client, models.NewErrorMessage("Invalid command format"))
				continue
			}
			return
		}

		select {
		case commands <- cmd:
		case <-client.Done():
			return
		}
	}
}

func (s *Server) handleCommand(client *stream.Client, cmd models.Command) {
	metrics.IncrementCommand(cmd.Action)
	log := s.log.WithComponent("server").WithFields(logger.Fields{
		"client_id": client.ID,
		"action":    cmd.Action,
		"type":      cmd.Type,
		"symbol":    cmd.Symbol,
	})

	switch cmd.Action {
	case models.ActionSubscribe:
		kind := models.StreamKind(cmd.Type)
		valid := false
		switch kind {
		case models.KindTicker, models.KindKline, models.KindDepth:
			valid = cmd.Symbol != ""
		case models.KindMiniTicker, models.KindUserData:
			valid = true
		}
		if !valid {
			payload, _ := json.Marshal(cmd)
			s.hub.Send(client, models.NewErrorMessage(fmt.Sprintf("Invalid subscription request: %s", payload)))
			return
		}
		log.Info("subscribe command")
		s.mux.Subscribe(client, kind, cmd.Symbol, cmd.Interval)

	case models.ActionUnsubscribe:
		kind := models.StreamKind(cmd.Type)
		log.Info("unsubscribe command")
		switch kind {
		case models.KindMiniTicker, models.KindUserData:
			s.mux.Unsubscribe(client.ID, kind, "")
		case models.KindTicker, models.KindKline, models.KindDepth:
			if cmd.Symbol == "" {
				s.mux.UnsubscribeAll(client.ID)
			} else {
				s.mux.Unsubscribe(client.ID, kind, cmd.Symbol)
			}
		default:
			s.mux.UnsubscribeAll(client.ID)
		}

	case models.ActionPing:
		s.hub.Send(client, models.PongMessage{Type: "pong", Timestamp: time.Now().UnixMilli()})

	default:
		log.Debug("ignoring unknown action")
	}
}

// serveDedicated runs a single stream endpoint: one implicit subscription,
// closed when either side goes away.
func (s *Server) serveDedicated(c *gin.Context, kind models.StreamKind, symbol, interval string) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithComponent("server").WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := s.hub.NewClient(conn)
	s.hub.Register(client)
	defer func() {
		s.mux.UnsubscribeAll(client.ID)
		s.hub.Unregister(client.ID)
	}()

	done := s.mux.Subscribe(client, kind, symbol, interval)

	readErr := make(chan struct{})
	go func() {
		defer close(readErr)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-done:
		// a failed mini ticker stream falls back to per symbol tickers,
		// keep serving those until the client goes away
		if s.mux.SubscriptionCount(client.ID) > 0 {
			select {
			case <-readErr:
			case <-client.Done():
			}
		}
	case <-readErr:
	case <-client.Done():
	}
}

func (s *Server) tickerSocket(c *gin.Context) {
	s.serveDedicated(c, models.KindTicker, c.Param("symbol"), "")
}

func (s *Server) miniTickerSocket(c *gin.Context) {
	s.serveDedicated(c, models.KindMiniTicker, "", "")
}

func (s *Server) klineSocket(c *gin.Context) {
	s.serveDedicated(c, models.KindKline, c.Param("symbol"), c.Param("interval"))
}

func (s *Server) depthSocket(c *gin.Context) {
	s.serveDedicated(c, models.KindDepth, c.Param("symbol"), "")
}

func (s *Server) userDataSocket(c *gin.Context) {
	s.serveDedicated(c, models.KindUserData, "", "")
}
