package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"roomchat/internal/storage"
)

type handler struct {
	logger  *zap.SugaredLogger
	store   Store
	auth    Authenticator
	parsers fastjson.ParserPool
}

// createUser handles HTTP requests on "/users/add" endpoint
// it responds with the id of the new user and an access token for the websocket
func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if !fastjson.Exists(body, "username") {
		http.Error(w, "Missing Field \"username\"", http.StatusBadRequest)
		return
	}

	username := fastjson.GetString(body, "username")
	if len(username) == 0 {
		http.Error(w, "Field \"username\" must be a string and have non-zero length", http.StatusBadRequest)
		return
	}

	id, err := h.store.CreateUser(r.Context(), username)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUserExists):
			http.Error(w, "User already exists", http.StatusBadRequest)
		case errors.Is(err, storage.ErrUsernameIsEmpty):
			http.Error(w, "Field \"username\" must be a string and have non-zero length", http.StatusBadRequest)
		default:
			h.logger.Error(err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	token, err := h.auth.Issue(id)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	payload, err := json.Marshal(struct {
		ID    int64  `json:"id"`
		Token string `json:"token"`
	}{id, token})
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.write(w, http.StatusCreated, payload)
}

// roomsByUserID handles HTTP requests on "/rooms/get" endpoint
func (h *handler) roomsByUserID(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.idField(w, r, "user")
	if !ok {
		return
	}

	rooms, err := h.store.RoomsByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			http.Error(w, "User does not exist", http.StatusBadRequest)
			return
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if rooms == nil {
		rooms = []storage.Room{}
	}

	payload, err := json.Marshal(rooms)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.write(w, http.StatusOK, payload)
}

// messagesByRoomID handles HTTP requests on "/messages/get" endpoint
func (h *handler) messagesByRoomID(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.idField(w, r, "room")
	if !ok {
		return
	}

	messages, err := h.store.MessagesByRoomID(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, storage.ErrRoomNotExist) {
			http.Error(w, "Room does not exist", http.StatusBadRequest)
			return
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []storage.Message{}
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.write(w, http.StatusOK, payload)
}

// idField reads a positive 64-bit id from the request body, answering the request when it is missing
func (h *handler) idField(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.Get()
	defer h.parsers.Put(parser)
	v, err := parser.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return 0, false
	}

	if !v.Exists(name) {
		http.Error(w, "Missing Field \""+name+"\"", http.StatusBadRequest)
		return 0, false
	}

	id, err := v.Get(name).Int64()
	if err != nil {
		http.Error(w, "Field \""+name+"\" must be a 64-bit integer value", http.StatusBadRequest)
		return 0, false
	}

	if id < 1 {
		http.Error(w, "Field \""+name+"\" must be a valid "+name+" id greater than zero", http.StatusBadRequest)
		return 0, false
	}

	return id, true
}

func (h *handler) write(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}
