package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-service/internal/domain"
	"github.com/kursadbilgin/notification-service/internal/service"
)

type NotificationService interface {
	Create(ctx context.Context, req service.CreateRequest) (*domain.Notification, bool, error)
	HandlePaymentCallback(ctx context.Context, cb service.PaymentCallback) (*domain.Notification, bool, error)
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	ListByStatus(ctx context.Context, status domain.Status) ([]domain.Notification, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]domain.Notification, error)
	ListAttempts(ctx context.Context, id string) ([]domain.NotificationAttempt, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	api := router.Group("/api/notifications")
	api.Post("/", h.CreateNotification)
	api.Post("/payment-callback", h.PaymentCallback)
	api.Get("/", h.ListByStatus)
	api.Get("/transaction/:transactionId", h.ListByTransaction)
	api.Get("/:id/attempts", h.ListAttempts)
	api.Get("/:id", h.GetNotification)

	return nil
}

type createNotificationRequest struct {
	TransactionID    string `json:"transactionId"`
	NotificationType string `json:"notificationType"`
	Recipient        string `json:"recipient"`
	Subject          string `json:"subject"`
	Body             string `json:"body"`
	// Message is accepted as an alias of Body for callers using the older field name.
	Message  string `json:"message"`
	MaxRetry *int   `json:"maxRetry,omitempty"`
}

type paymentCallbackRequest struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	CustomerEmail string `json:"customerEmail"`
}

type notificationResponse struct {
	ID               string     `json:"id"`
	TransactionID    string     `json:"transactionId"`
	NotificationType string     `json:"notificationType"`
	Recipient        string     `json:"recipient"`
	Subject          string     `json:"subject"`
	Body             string     `json:"body"`
	Status           string     `json:"status"`
	RetryCount       int        `json:"retryCount"`
	MaxRetry         int        `json:"maxRetry"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	SentAt           *time.Time `json:"sentAt,omitempty"`
	LastError        *string    `json:"lastError,omitempty"`
}

type attemptResponse struct {
	ID             string    `json:"id"`
	AttemptNumber  int       `json:"attemptNumber"`
	Delivered      bool      `json:"delivered"`
	StatusCode     *int      `json:"statusCode,omitempty"`
	ResponseBody   *string   `json:"responseBody,omitempty"`
	Error          *string   `json:"error,omitempty"`
	DurationMillis int64     `json:"durationMs"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CreateNotification answers 201 for a new record and 200 when the idempotency key already exists.
func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Body == "" {
		req.Body = req.Message
	}

	notification, created, err := h.service.Create(c.UserContext(), service.CreateRequest{
		TransactionID:    req.TransactionID,
		NotificationType: req.NotificationType,
		Recipient:        req.Recipient,
		Subject:          req.Subject,
		Body:             req.Body,
		MaxRetry:         req.MaxRetry,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(createdStatus(created)).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) PaymentCallback(c *fiber.Ctx) error {
	var req paymentCallbackRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	notification, _, err := h.service.HandlePaymentCallback(c.UserContext(), service.PaymentCallback{
		TransactionID: req.TransactionID,
		Status:        req.Status,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message":        "Callback processed successfully",
		"notificationId": notification.ID,
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	notification, err := h.service.GetByID(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

// ListByStatus lists PENDING notifications unless a status query parameter is given.
func (h *NotificationHandler) ListByStatus(c *fiber.Ctx) error {
	status := domain.StatusPending
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		parsed, err := domain.ParseStatusFromString(raw)
		if err != nil {
			return toHTTPError(err)
		}
		status = parsed
	}

	notifications, err := h.service.ListByStatus(c.UserContext(), status)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponses(notifications))
}

func (h *NotificationHandler) ListByTransaction(c *fiber.Ctx) error {
	notifications, err := h.service.ListByTransaction(c.UserContext(), c.Params("transactionId"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponses(notifications))
}

func (h *NotificationHandler) ListAttempts(c *fiber.Ctx) error {
	attempts, err := h.service.ListAttempts(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		responses = append(responses, attemptResponse{
			ID:             a.ID,
			AttemptNumber:  a.AttemptNumber,
			Delivered:      a.Delivered,
			StatusCode:     a.StatusCode,
			ResponseBody:   a.ResponseBody,
			Error:          a.Error,
			DurationMillis: a.DurationMillis,
			CreatedAt:      a.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(responses)
}

func createdStatus(created bool) int {
	if created {
		return fiber.StatusCreated
	}
	return fiber.StatusOK
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		n := notification
		responses = append(responses, toNotificationResponse(&n))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:               n.ID,
		TransactionID:    n.TransactionID,
		NotificationType: n.NotificationType,
		Recipient:        n.Recipient,
		Subject:          n.Subject,
		Body:             n.Body,
		Status:           n.Status.String(),
		RetryCount:       n.RetryCount,
		MaxRetry:         n.MaxRetry,
		CreatedAt:        n.CreatedAt,
		UpdatedAt:        n.UpdatedAt,
		SentAt:           n.SentAt,
		LastError:        n.LastError,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
