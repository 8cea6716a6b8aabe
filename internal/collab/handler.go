package collab

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/codehive/server/internal/shared/metrics"
	"github.com/codehive/server/internal/shared/middleware"
	"github.com/codehive/server/internal/shared/response"
)

// Handler handles HTTP requests for collaboration rooms.
type Handler struct {
	rooms       *RoomService
	invitations *InvitationManager
	chat        *ChatService
	metrics     *metrics.Metrics
}

// NewHandler creates a new collaboration handler.
func NewHandler(rooms *RoomService, invitations *InvitationManager, chat *ChatService, m *metrics.Metrics) *Handler {
	return &Handler{
		rooms:       rooms,
		invitations: invitations,
		chat:        chat,
		metrics:     m,
	}
}

// RegisterProtectedRoutes registers routes that require authentication.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	rooms := r.Group("/rooms")
	{
		rooms.POST("", h.CreateRoom)
		rooms.GET("", h.ListRooms)
		rooms.GET("/:id", h.GetRoom)
		rooms.GET("/:id/members", h.ListMembers)
		rooms.DELETE("/:id/members/me", h.LeaveRoom)
		rooms.POST("/:id/invitations", h.InviteToRoom)
		rooms.GET("/:id/messages", h.ListMessages)
		rooms.POST("/:id/messages", h.PostMessage)
		rooms.GET("/:id/outputs", h.ListOutputs)
		rooms.POST("/:id/outputs", h.ShareOutput)
	}

	invitations := r.Group("/invitations")
	{
		invitations.GET("", h.ListPendingInvitations)
		invitations.POST("/:id/respond", h.RespondToInvitation)
	}
}

var collabErrorMappings = []response.ErrorMapping{
	{Err: ErrRoomNotFound, Status: http.StatusNotFound, Code: "ROOM_NOT_FOUND"},
	{Err: ErrRoomExists, Status: http.StatusConflict, Code: "ROOM_EXISTS"},
	{Err: ErrRoomFull, Status: http.StatusConflict, Code: "ROOM_FULL"},
	{Err: ErrNotAMember, Status: http.StatusForbidden, Code: "NOT_A_MEMBER"},
	{Err: ErrAlreadyMember, Status: http.StatusConflict, Code: "ALREADY_MEMBER"},
	{Err: ErrInvalidEmail, Status: http.StatusBadRequest, Code: "INVALID_EMAIL"},
	{Err: ErrSelfInvite, Status: http.StatusBadRequest, Code: "SELF_INVITE"},
	{Err: ErrTooManyInvites, Status: http.StatusBadRequest, Code: "TOO_MANY_INVITES"},
	{Err: ErrInvitationNotFound, Status: http.StatusNotFound, Code: "INVITATION_NOT_FOUND"},
	{Err: ErrInvitationProcessed, Status: http.StatusConflict, Code: "INVITATION_PROCESSED"},
	{Err: ErrNotInvitee, Status: http.StatusForbidden, Code: "NOT_INVITEE"},
	{Err: ErrEmptyRoomName, Status: http.StatusBadRequest, Code: "EMPTY_ROOM_NAME"},
	{Err: ErrEmptyMessage, Status: http.StatusBadRequest, Code: "EMPTY_MESSAGE"},
}

// CreateRoom creates a room owned by the caller.
func (h *Handler) CreateRoom(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "")
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	room, err := h.rooms.Create(c.Request.Context(), identity, &req)
	if err != nil {
		response.HandleError(c, err, collabErrorMappings)
		return
	}

	h.metrics.RoomsCreatedTotal.Inc()
	c.JSON(http.StatusCreated, room)
}

// ListRooms returns the rooms the caller belongs to.
func (h *Handler) ListRooms(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "")
		return
	}

	rooms, err := h.rooms.List(c.Request.Context(), identity.UserID)
	if err != nil {
		response.HandleError(c, err, collabErrorMappings)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetRoom returns a room by ID.
func (h *Handler) GetRoom(c *gin.Context) {
	roomID, ok := h.roomID(c)
	if !ok {
		return
	}

	room, err := h.rooms.Get(c.Request.Context(), roomID)
	if err != nil {
		response.HandleError(c, err, collabErrorMappings)
		return
	}

	c.JSON(http.StatusOK, room)
}

// ListMembers returns the durable member list of a room.
func (h *Handler) ListMembers(c *gin.Context) {
	roomID, ok := h.roomID(c)
	if !ok {
		return
	}

	members, err := h.rooms.Members(c.Request.Context(), roomID)
	if err != nil {
		response.HandleError(c, err, collabErrorMappings)
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}

// LeaveRoom removes the caller from a room.
func (h *Handler) LeaveRoom(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "")
		return
	}
	roomID, ok := h.roomID(c)
	if !ok {
		return
	}

	if err := h.rooms.Leave(c.Request.Context(), roomID, identity); err != nil {
		response.HandleError(c, err, collabErrorMappings)
		return
	}

	c.Status(http.StatusNoContent)
}

type inviteRequest struct {
	Email string `json:"email" binding:"required"`
}

// InviteToRoom sends an invitation to join a room.
func (h *Handler) InviteToRoom(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "")
		return
	}
	roomID, ok := h.roomID(c)
	if !ok {
		return
	}

	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.rooms.Invite(c.Request.Context(), roomID, identity, req.Email); err != nil {
		response.HandleError(c, err, collabErrorMappings)
		return
	}

	h.metrics.InvitationsTotal.WithLabelValues("sent").Inc()
	c.Status(http.StatusAccepted)
}

// ListPendingInvitations returns the caller's pending invitations.
func (h *Handler) ListPendingInvitations(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "")
		return
	}

	invites, err := h.invitations.LoadPending(c.Request.Context(), identity)
	if err != nil {
		response.HandleError(c, err, collabErrorMappings)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invitations": invites})
}

type respondRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

// RespondToInvitation accepts or declines a pending invitation.
func (h *Handler) RespondToInvitation(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "")
		return
	}

	invitationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid invitation id")
		return
	}

	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.invitations.Respond(c.Request.Context(), identity, invitationID, *req.Accept); err != nil {
		response.HandleError(c, err, collabErrorMappings)
		return
	}

	if *req.Accept {
		h.metrics.InvitationsTotal.WithLabelValues("accepted").Inc()
	} else {
		h.metrics.InvitationsTotal.WithLabelValues("declined").Inc()
	}
	c.Status(http.StatusNoContent)
}

type postMessageRequest struct {
	Content string `json:"content" binding:"required"`
	IsAI    bool   `json:"is_ai"`
}

// ListMessages returns recent chat history for a room.
func (h *Handler) ListMessages(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "")
		return
	}
	roomID, ok := h.roomID(c)
	if !ok {
		return
	}

	messages, err := h.chat.History(c.Request.Context(), roomID, identity)
	if err != nil {
		response.HandleError(c, err, collabErrorMappings)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// PostMessage appends a chat message to a room.
func (h *Handler) PostMessage(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "")
		return
	}
	roomID, ok := h.roomID(c)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	message, err := h.chat.Post(c.Request.Context(), roomID, identity, req.Content, req.IsAI)
	if err != nil {
		response.HandleError(c, err, collabErrorMappings)
		return
	}

	h.metrics.MessagesPostedTotal.Inc()
	c.JSON(http.StatusCreated, message)
}

type shareOutputRequest struct {
	Code     string `json:"code" binding:"required"`
	Output   string `json:"output"`
	Language string `json:"language" binding:"required"`
}

// ListOutputs returns recently shared code outputs for a room.
func (h *Handler) ListOutputs(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "")
		return
	}
	roomID, ok := h.roomID(c)
	if !ok {
		return
	}

	outputs, err := h.chat.RecentOutputs(c.Request.Context(), roomID, identity)
	if err != nil {
		response.HandleError(c, err, collabErrorMappings)
		return
	}

	c.JSON(http.StatusOK, gin.H{"outputs": outputs})
}

// ShareOutput records a code execution result in a room.
func (h *Handler) ShareOutput(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "")
		return
	}
	roomID, ok := h.roomID(c)
	if !ok {
		return
	}

	var req shareOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	output, err := h.chat.Share(c.Request.Context(), roomID, identity, req.Code, req.Output, req.Language)
	if err != nil {
		response.HandleError(c, err, collabErrorMappings)
		return
	}

	h.metrics.OutputsSharedTotal.Inc()
	c.JSON(http.StatusCreated, output)
}

func (h *Handler) roomID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return uuid.Nil, false
	}
	return id, true
}
