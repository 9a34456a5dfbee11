package receiver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

const controlReadTimeout = 30 * time.Second

// controlRequest is one admin action, one JSON object per line.
type controlRequest struct {
	Action string `json:"action"`
	Name   string `json:"name,omitempty"`
	Frame  int    `json:"frame,omitempty"`
}

// controlResponse is the reply to one controlRequest.
type controlResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// serveControl accepts admin clients on ln until ctx ends or ln closes.
func (s *Service) serveControl(ctx context.Context, ln net.Listener) error {
	log := s.log.With().Str("addr", ln.Addr().String()).Logger()
	log.Info().Msg("admin control listening")

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var (
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
		wg    sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for conn := range conns {
			_ = conn.Close()
		}
		mu.Unlock()
		wg.Wait()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		mu.Lock()
		conns[conn] = struct{}{}
		mu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleControlConn(conn)
			mu.Lock()
			delete(conns, conn)
			mu.Unlock()
		}()
	}
}

// handleControlConn reads one request per line and writes one response per
// line.
func (s *Service) handleControlConn(conn net.Conn) {
	defer conn.Close()
	log := s.log.With().Str("remote", conn.RemoteAddr().String()).Logger()
	log.Debug().Msg("admin client connected")
	defer log.Debug().Msg("admin client disconnected")

	reader := bufio.NewReader(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(controlReadTimeout))
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Msg("admin read failed")
			}
			return
		}
		var req controlRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = writeControlResponse(conn, controlResponse{OK: false, Error: err.Error()})
			continue
		}
		resp := s.handleControlRequest(req)
		if err := writeControlResponse(conn, resp); err != nil {
			log.Warn().Err(err).Msg("admin write failed")
			return
		}
	}
}

// handleControlRequest maps one admin action onto the consumer API.
func (s *Service) handleControlRequest(req controlRequest) controlResponse {
	action := strings.TrimSpace(req.Action)
	s.log.Debug().Str("action", action).Str("name", req.Name).Msg("admin action")
	switch action {
	case "status":
		return controlResponse{OK: true, Data: s.Status()}
	case "list_recordings":
		return controlResponse{OK: true, Data: s.ListRecordings()}
	case "start_recording":
		return result(nil, s.StartRecording(req.Name))
	case "stop_recording":
		info, err := s.StopRecording()
		return result(info, err)
	case "delete_recording":
		return result(nil, s.DeleteRecording(req.Name))
	case "play":
		return result(nil, s.PlayRecording(req.Name))
	case "replay":
		return result(nil, s.ReplayRecording())
	case "seek":
		frame, err := s.SeekTo(req.Frame)
		return result(map[string]int{"frame": frame}, err)
	case "clear_seek":
		return result(nil, s.ClearSeek())
	case "stop_playback":
		s.StopPlayback()
		return controlResponse{OK: true}
	case "reprocess_history":
		return controlResponse{OK: true, Data: map[string]int{"applied": s.ReprocessHistory()}}
	default:
		return controlResponse{OK: false, Error: fmt.Sprintf("unknown action: %s", req.Action)}
	}
}

func result(data any, err error) controlResponse {
	if err != nil {
		return controlResponse{OK: false, Error: err.Error()}
	}
	return controlResponse{OK: true, Data: data}
}

func writeControlResponse(w io.Writer, resp controlResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}
