package bridge

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"emberfall/server/internal/audit"
	"emberfall/server/internal/sim"
)

// validName bounds whitelist targets to legal account names.
var validName = regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/players", s.handlePlayers)
	s.mux.HandleFunc("/api/player/", s.handlePlayer)
	s.mux.HandleFunc("/api/whitelist", s.handleWhitelist)
	s.mux.HandleFunc("/api/whitelist/add", s.handleWhitelistAdd)
	s.mux.HandleFunc("/api/whitelist/remove", s.handleWhitelistRemove)
	s.mux.HandleFunc("/api/command", s.handleCommand)
	if s.cfg.Stream != nil {
		s.mux.HandleFunc("/api/events", s.cfg.Stream.handleEvents)
	}
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errNotFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Hub.Status())
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}
	actors := s.cfg.Hub.Actors()
	if actors == nil {
		actors = []sim.ActorSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": actors})
}

// handlePlayer serves /api/player/{id} plus the /inventory and /enderchest
// sub-resources. The servemux cannot pattern-match the middle segment, so the
// tail is split by hand.
func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/player/"), "/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	parts := strings.Split(tail, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		detail, ok := s.cfg.Hub.ActorDetail(id)
		if !ok {
			writeError(w, http.StatusNotFound, errNotFound)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case len(parts) == 2 && parts[1] == "inventory":
		if !s.cfg.EnableInventoryView {
			writeError(w, http.StatusForbidden, errForbidden)
			return
		}
		inventory, ok := s.cfg.Hub.ActorInventory(id)
		if !ok {
			writeError(w, http.StatusNotFound, errNotFound)
			return
		}
		writeJSON(w, http.StatusOK, inventory)
	case len(parts) == 2 && parts[1] == "enderchest":
		if !s.cfg.EnableEnderChestView {
			writeError(w, http.StatusForbidden, errForbidden)
			return
		}
		stash, ok := s.cfg.Hub.ActorEnderChest(id)
		if !ok {
			writeError(w, http.StatusNotFound, errNotFound)
			return
		}
		writeJSON(w, http.StatusOK, stash)
	default:
		writeError(w, http.StatusNotFound, errNotFound)
	}
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}
	entries := s.cfg.Hub.WhitelistEntries()
	if entries == nil {
		entries = []sim.WhitelistEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"whitelist": entries})
}

type whitelistRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	s.handleWhitelistMutation(w, r, sim.CommandWhitelistAdd, audit.ActionWhitelistAdd)
}

func (s *Server) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	s.handleWhitelistMutation(w, r, sim.CommandWhitelistRemove, audit.ActionWhitelistRemove)
}

func (s *Server) handleWhitelistMutation(w http.ResponseWriter, r *http.Request, cmdType sim.CommandType, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}
	var req whitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if !validName.MatchString(name) {
		writeErrorReason(w, http.StatusBadRequest, errBadRequest, "invalid_name")
		return
	}

	actor := actorFrom(r)
	ok, reason := s.cfg.Hub.Enqueue(sim.Command{
		Type:  cmdType,
		Actor: actor,
		Name:  name,
	})
	if !ok {
		writeErrorReason(w, http.StatusServiceUnavailable, errQueueFull, reason)
		return
	}

	s.cfg.Trail.Record(r.Context(), audit.Entry{
		Actor:    actor,
		Endpoint: r.URL.Path,
		Action:   action,
		Payload:  "name=" + name,
	})
	writeOK(w, "Whitelist update queued")
}

type commandRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	verb := strings.TrimSpace(req.Command)
	if verb == "" {
		writeErrorReason(w, http.StatusBadRequest, errBadRequest, "missing_command")
		return
	}

	parts := append([]string{verb}, req.Args...)
	line := strings.Join(parts, " ")
	actor := actorFrom(r)

	if !s.cfg.Policy.CommandAllowed(line) {
		s.cfg.Trail.Record(r.Context(), audit.Entry{
			Actor:    actor,
			Endpoint: r.URL.Path,
			Action:   audit.ActionCommandDenied,
			Payload:  "cmd=" + line,
		})
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}

	ok, reason := s.cfg.Hub.Enqueue(sim.Command{
		Type:  sim.CommandConsole,
		Actor: actor,
		Line:  line,
	})
	if !ok {
		writeErrorReason(w, http.StatusServiceUnavailable, errQueueFull, reason)
		return
	}

	s.cfg.Trail.Record(r.Context(), audit.Entry{
		Actor:    actor,
		Endpoint: r.URL.Path,
		Action:   audit.ActionCommandExec,
		Payload:  "cmd=" + line,
	})
	writeOK(w, "Command dispatched")
}
