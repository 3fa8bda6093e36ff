package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"shieldchat/internal/model"
	"shieldchat/internal/service/reconciler"
	"shieldchat/internal/utils/log"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

type (
	HttpServer struct {
		rec      *reconciler.Reconciler
		gatherer prometheus.Gatherer
	}

	messagesResponse struct {
		Channel  string          `json:"channel"`
		Messages []model.Message `json:"messages"`
		Error    string          `json:"error,omitempty"`
	}

	sendRequest struct {
		Content    string            `json:"content"`
		Sender     string            `json:"sender"`
		Attachment *model.Attachment `json:"attachment,omitempty"`
	}

	sendResponse struct {
		ContentRef      string        `json:"contentRef"`
		MessageHash     string        `json:"messageHash"`
		InstructionData string        `json:"instructionData"`
		Message         model.Message `json:"message"`
	}

	pushRequest struct {
		Data      string `json:"data"`
		Sender    string `json:"sender"`
		Signature string `json:"signature"`
		Timestamp int64  `json:"timestamp"`
	}

	pushResponse struct {
		Added bool `json:"added"`
	}

	statusResponse struct {
		Channel           string `json:"channel"`
		Active            bool   `json:"active"`
		Loading           bool   `json:"loading"`
		Mode              string `json:"mode"`
		LastKnownSequence uint64 `json:"lastKnownSequence"`
		FetchInFlight     bool   `json:"fetchInFlight"`
		Polling           bool   `json:"polling"`
		Error             string `json:"error,omitempty"`
	}
)

// NewHttpServer serves one reconciler; gatherer may be nil to disable /metrics.
func NewHttpServer(rec *reconciler.Reconciler, gatherer prometheus.Gatherer) *HttpServer {
	return &HttpServer{rec: rec, gatherer: gatherer}
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.HandleHealth()).Methods(http.MethodGet)
	r.HandleFunc("/channels/{channel}/messages", s.HandleGetMessages()).Methods(http.MethodGet)
	r.HandleFunc("/channels/{channel}/messages", s.HandleSendMessage()).Methods(http.MethodPost)
	r.HandleFunc("/channels/{channel}/push", s.HandlePush()).Methods(http.MethodPost)
	r.HandleFunc("/channels/{channel}/status", s.HandleStatus()).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// Run serves on addr until ctx is done.
func (s *HttpServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func pathChannel(w http.ResponseWriter, r *http.Request) (solana.PublicKey, bool) {
	channel, err := solana.PublicKeyFromBase58(mux.Vars(r)["channel"])
	if err != nil {
		http.Error(w, "invalid channel id", http.StatusBadRequest)
		return solana.PublicKey{}, false
	}
	return channel, true
}

func (s *HttpServer) isActive(channel solana.PublicKey) bool {
	current, ok := s.rec.Channel()
	return ok && current.Equals(channel)
}

// activate makes channel the reconciler's active one. Call it only after the
// request is known to be valid.
func (s *HttpServer) activate(channel solana.PublicKey) {
	if !s.isActive(channel) {
		log.Info("switching active channel", zap.String("channel", channel.String()))
		s.rec.SetChannel(channel)
	}
}

func (s *HttpServer) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func (s *HttpServer) HandleGetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel, ok := pathChannel(w, r)
		if !ok {
			return
		}
		background, _ := strconv.ParseBool(r.URL.Query().Get("background"))
		s.activate(channel)

		msgs, err := s.rec.FetchChannelMessages(r.Context(), background)
		resp := &messagesResponse{Channel: channel.String(), Messages: msgs}
		if resp.Messages == nil {
			resp.Messages = []model.Message{}
		}

		status := http.StatusOK
		if err != nil {
			log.Error("fetch channel messages failed", zap.String("channel", channel.String()), zap.Error(err))
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func (s *HttpServer) HandleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel, ok := pathChannel(w, r)
		if !ok {
			return
		}

		var req sendRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Content == "" || req.Sender == "" {
			http.Error(w, "content and sender are required", http.StatusBadRequest)
			return
		}
		s.activate(channel)

		res, err := s.rec.AddLocalMessage(r.Context(), channel, req.Content, req.Sender, req.Attachment)
		if err != nil {
			log.Error("add local message failed", zap.String("channel", channel.String()), zap.Error(err))
			http.Error(w, "send message failed", http.StatusBadGateway)
			return
		}

		writeJSON(w, http.StatusCreated, &sendResponse{
			ContentRef:      res.ContentRef,
			MessageHash:     hex.EncodeToString(res.MessageHash[:]),
			InstructionData: base58.Encode(res.InstructionData),
			Message:         res.Message,
		})
	}
}

func (s *HttpServer) HandlePush() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel, ok := pathChannel(w, r)
		if !ok {
			return
		}

		var req pushRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		data, err := base58.Decode(req.Data)
		if err != nil || req.Signature == "" {
			http.Error(w, "data must be base58 and signature is required", http.StatusBadRequest)
			return
		}
		s.activate(channel)

		added := s.rec.AddMessageFromPush(r.Context(), data, req.Sender, req.Signature, req.Timestamp)
		writeJSON(w, http.StatusOK, &pushResponse{Added: added})
	}
}

func (s *HttpServer) HandleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel, ok := pathChannel(w, r)
		if !ok {
			return
		}
		// status is read-only; another channel reports as inactive
		if !s.isActive(channel) {
			writeJSON(w, http.StatusOK, &statusResponse{
				Channel: channel.String(),
				Mode:    model.ModePolling.String(),
			})
			return
		}

		st := s.rec.Status()
		resp := &statusResponse{
			Channel:           st.Channel,
			Active:            true,
			Loading:           st.Loading,
			Mode:              st.Mode.String(),
			LastKnownSequence: st.LastKnownSequence,
			FetchInFlight:     st.FetchInFlight,
			Polling:           s.rec.Polling(),
		}
		if st.Err != nil {
			resp.Error = st.Err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
