package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/infrastructure/monitoring"
	"peercall/internal/infrastructure/signal"
	apperrors "peercall/pkg/errors"
	"peercall/pkg/logger"
	"peercall/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SignalingHandler serves the store-and-poll signaling endpoint. Writes
// store the payload in the room; reads return whatever is stored so far.
type SignalingHandler struct {
	rooms   ports.RoomService
	metrics ports.SignalingMetrics
	logger  *zap.SugaredLogger
}

func NewSignalingHandler(rooms ports.RoomService, metrics ports.SignalingMetrics, logger *zap.SugaredLogger) *SignalingHandler {
	if metrics == nil {
		metrics = monitoring.Nop()
	}
	return &SignalingHandler{
		rooms:   rooms,
		metrics: metrics,
		logger:  logger,
	}
}

func (h *SignalingHandler) SetupRoutes(router *gin.Engine) {
	router.POST("/api/signaling", h.Post)
	router.GET("/api/signaling", h.Get)
}

func (h *SignalingHandler) Post(c *gin.Context) {
	var req signal.PollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err))
		return
	}
	if err := validation.ValidateRoomID(string(req.RoomID)); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err))
		return
	}
	h.metrics.PollRequest(req.Action)

	ctx := logger.WithRoom(c.Request.Context(), req.RoomID)
	c.Request = c.Request.WithContext(ctx)
	var err error

	switch req.Action {
	case signal.ActionCreate:
		_, err = h.rooms.CreateRoom(ctx, req.RoomID, "")
	case signal.ActionJoin:
		_, err = h.rooms.JoinRoom(ctx, req.RoomID, "")
	case signal.ActionOffer, signal.ActionAnswer:
		var sd domain.SessionDescription
		if sd, err = decodeDescription(req); err == nil {
			if req.Action == signal.ActionOffer {
				err = h.rooms.PublishOffer(ctx, req.RoomID, sd)
			} else {
				err = h.rooms.PublishAnswer(ctx, req.RoomID, sd)
			}
		}
	case signal.ActionICECandidate:
		var p signal.PollCandidate
		if p, err = decodeCandidate(req); err == nil {
			err = h.rooms.AddCandidate(ctx, req.RoomID, p.Type, p.Candidate)
		}
	default:
		err = fmt.Errorf("%w: invalid action %q", domain.ErrInvalidMessage, req.Action)
	}

	if err != nil {
		h.fail(c, err)
		return
	}

	resp := signal.PollResponse{Success: true}
	if req.Action == signal.ActionCreate || req.Action == signal.ActionJoin {
		resp.RoomID = req.RoomID
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SignalingHandler) Get(c *gin.Context) {
	action := c.Query("action")
	roomID := domain.RoomID(c.Query("roomId"))
	if roomID == "" {
		h.fail(c, fmt.Errorf("%w: room id required", domain.ErrInvalidMessage))
		return
	}
	if err := validation.ValidateRoomID(string(roomID)); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err))
		return
	}
	h.metrics.PollRequest(action)

	ctx := logger.WithRoom(c.Request.Context(), roomID)
	c.Request = c.Request.WithContext(ctx)
	var (
		data interface{}
		err  error
	)

	switch action {
	case signal.ActionGetOffer:
		data, err = h.rooms.Offer(ctx, roomID)
	case signal.ActionGetAnswer:
		data, err = h.rooms.Answer(ctx, roomID)
	case signal.ActionGetICECandidates:
		side := domain.Side(c.Query("type"))
		if !side.Valid() {
			err = fmt.Errorf("%w: candidate type %q", domain.ErrInvalidMessage, side)
			break
		}
		var candidates []domain.Candidate
		if candidates, err = h.rooms.Candidates(ctx, roomID, side); candidates == nil {
			candidates = []domain.Candidate{}
		}
		data = candidates
	default:
		err = fmt.Errorf("%w: invalid action %q", domain.ErrInvalidMessage, action)
	}

	if err != nil {
		h.fail(c, err)
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, signal.PollResponse{Success: true, Data: raw})
}

func (h *SignalingHandler) fail(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	appErr := errorMapper.Map(err)
	h.metrics.SignalingError(code)

	if appErr.Status >= http.StatusInternalServerError {
		logger.For(c.Request.Context(), h.logger).Errorw("Signaling request failed",
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"error", err,
		)
	}

	c.JSON(appErr.Status, signal.PollResponse{
		Success: false,
		Error:   appErr.Message,
		Code:    code,
	})
}

func decodeDescription(req signal.PollRequest) (domain.SessionDescription, error) {
	var sd domain.SessionDescription
	if err := json.Unmarshal(req.Data, &sd); err != nil {
		return sd, fmt.Errorf("%w: %s data: %v", domain.ErrInvalidMessage, req.Action, err)
	}
	if string(sd.Type) != req.Action {
		return sd, fmt.Errorf("%w: %s carries sdp type %q", domain.ErrInvalidMessage, req.Action, sd.Type)
	}
	if err := validation.ValidateSDP(sd.SDP); err != nil {
		return sd, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	return sd, nil
}

func decodeCandidate(req signal.PollRequest) (signal.PollCandidate, error) {
	var p signal.PollCandidate
	if err := json.Unmarshal(req.Data, &p); err != nil {
		return p, fmt.Errorf("%w: candidate data: %v", domain.ErrInvalidMessage, err)
	}
	if !p.Type.Valid() {
		return p, fmt.Errorf("%w: candidate type %q", domain.ErrInvalidMessage, p.Type)
	}
	if err := validation.ValidateCandidate(p.Candidate.Candidate); err != nil {
		return p, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	return p, nil
}

var errorMapper = apperrors.NewMapper(
	apperrors.Rule{Target: domain.ErrRoomNotFound, Code: apperrors.CodeRoomNotFound, Status: http.StatusNotFound, Message: "Room not found"},
	apperrors.Rule{Target: domain.ErrRoomAlreadyExists, Code: apperrors.CodeRoomAlreadyExists, Status: http.StatusConflict, Message: "Room already exists"},
	apperrors.Rule{Target: domain.ErrRoomFull, Code: apperrors.CodeRoomFull, Status: http.StatusConflict, Message: "Room is full"},
	apperrors.Rule{Target: domain.ErrInvalidMessage, Code: apperrors.CodeInvalidInput, Status: http.StatusBadRequest},
	apperrors.Rule{Target: domain.ErrRateLimited, Code: apperrors.CodeRateLimited, Status: http.StatusTooManyRequests, Message: "Rate limit exceeded"},
)
