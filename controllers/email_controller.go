package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mailcache/middleware"
	"mailcache/models"
	"mailcache/services"
	"mailcache/utils"
)

const maxAttachmentSize = 10 << 20

type EmailController struct {
	service *services.EmailService
	logger  *logrus.Entry
}

func NewEmailController(service *services.EmailService, logger *logrus.Entry) *EmailController {
	return &EmailController{
		service: service,
		logger:  logger,
	}
}

type MoveRequest struct {
	Folder       string   `json:"folder" validate:"required"`
	EmailIDs     []string `json:"email_ids" validate:"required,min=1"`
	TargetFolder string   `json:"target_folder" validate:"required,folderkey"`
}

type FlagRequest struct {
	Folder  string `json:"folder" validate:"required"`
	EmailID string `json:"email_id" validate:"required"`
}

type DraftRequest struct {
	To      string `json:"to" form:"to" validate:"omitempty,mailbox"`
	Subject string `json:"subject" form:"subject" validate:"max=255"`
	Body    string `json:"body" form:"body"`
}

type SendRequest struct {
	To      string `json:"to" form:"to" validate:"required,mailbox"`
	Subject string `json:"subject" form:"subject" validate:"required,max=64"`
	Body    string `json:"body" form:"body" validate:"required"`
}

func refreshRequested(c *fiber.Ctx) bool {
	switch strings.ToLower(c.Query("refresh")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// GetAll returns every logical folder keyed by folder key.
func (ec *EmailController) GetAll(c *fiber.Ctx) error {
	all, failures := ec.service.GetAll(c.UserContext(), refreshRequested(c))
	for key, err := range failures {
		ec.logger.WithError(err).WithField("folder", key).Warn("Folder fetch failed, serving it empty")
	}
	return c.JSON(all)
}

// GetFolder returns one folder and whether it came from the cache.
func (ec *EmailController) GetFolder(c *fiber.Ctx) error {
	res, err := ec.service.GetFolder(c.UserContext(), c.Params("key"), refreshRequested(c))
	if err != nil {
		return ec.fail(c, "get_folder", err)
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"data":   res.Messages,
		"folder": res.Folder.Name,
		"cached": res.Cached,
	})
}

func (ec *EmailController) Move(c *fiber.Ctx) error {
	var req MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	ids := make([]models.MessageID, 0, len(req.EmailIDs))
	for _, id := range req.EmailIDs {
		ids = append(ids, models.NewMessageID(id))
	}

	moved, err := ec.service.Move(c.UserContext(), req.Folder, ids, req.TargetFolder)
	if err != nil && len(moved) == 0 {
		return ec.fail(c, "move_emails", err)
	}
	if err != nil {
		ec.logger.WithError(err).WithField("moved", len(moved)).Warn("Move stopped part way")
	}

	return c.JSON(utils.SuccessResponse(
		fmt.Sprintf("Moved %d of %d emails to %s", len(moved), len(req.EmailIDs), req.TargetFolder),
		fiber.Map{"moved": moved},
	))
}

func (ec *EmailController) MarkAsRead(c *fiber.Ctx) error {
	return ec.setFlag(c, models.FlagSeen, true, "Email marked as read")
}

func (ec *EmailController) Flag(c *fiber.Ctx) error {
	return ec.setFlag(c, models.FlagFlagged, true, "Email flagged")
}

func (ec *EmailController) Unflag(c *fiber.Ctx) error {
	return ec.setFlag(c, models.FlagFlagged, false, "Email unflagged")
}

func (ec *EmailController) setFlag(c *fiber.Ctx, flag models.Flag, value bool, message string) error {
	var req FlagRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if err := ec.service.SetFlag(c.UserContext(), req.Folder, models.NewMessageID(req.EmailID), flag, value); err != nil {
		return ec.fail(c, "set_flag", err)
	}
	return c.JSON(utils.SuccessResponse(message, nil))
}

// DeletePermanentAll empties the deleted-items folder. The body always
// carries an explicit success flag.
func (ec *EmailController) DeletePermanentAll(c *fiber.Ctx) error {
	res := ec.service.DeletePermanentAll(c.UserContext(), models.FolderDeleted)
	if !res.Success {
		utils.LogError("delete_permanent_all", errors.New(res.Message), map[string]interface{}{
			"principal": middleware.Principal(c),
		})
		return c.Status(fiber.StatusInternalServerError).JSON(res)
	}
	return c.JSON(res)
}

func (ec *EmailController) SaveDraft(c *fiber.Ctx) error {
	var req DraftRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	attachments, err := readAttachments(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid attachment", err)
	}

	draft, err := ec.service.SaveDraft(c.UserContext(), models.Compose{
		To:          strings.TrimSpace(req.To),
		Subject:     req.Subject,
		Body:        req.Body,
		Attachments: attachments,
	})
	if err != nil {
		return ec.fail(c, "save_draft", err)
	}
	return c.JSON(utils.SuccessResponse("Draft saved", fiber.Map{"draft": draft}))
}

func (ec *EmailController) Send(c *fiber.Ctx) error {
	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	attachments, err := readAttachments(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid attachment", err)
	}

	receipt, err := ec.service.Send(c.UserContext(), models.Compose{
		To:          strings.TrimSpace(req.To),
		Subject:     req.Subject,
		Body:        req.Body,
		Attachments: attachments,
	})
	if err != nil {
		return ec.fail(c, "send_email", err)
	}

	utils.LogEvent("email_sent", map[string]interface{}{
		"principal":   middleware.Principal(c),
		"message_id":  receipt.MessageID,
		"attachments": receipt.AttachmentsCount,
	})
	return c.JSON(utils.SuccessResponse("Email sent successfully", fiber.Map{
		"to":                receipt.To,
		"subject":           receipt.Subject,
		"attachments_count": receipt.AttachmentsCount,
		"saved_to_sent":     receipt.SavedToSent,
	}))
}

// DownloadAttachment streams the attachment bytes as a file download.
func (ec *EmailController) DownloadAttachment(c *fiber.Ctx) error {
	att, err := ec.attachment(c)
	if err != nil {
		return ec.fail(c, "download_attachment", err)
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
	return c.Send(att.Content)
}

// PreviewAttachment serves the attachment inline when the browser can
// render it, and as a download otherwise.
func (ec *EmailController) PreviewAttachment(c *fiber.Ctx) error {
	att, err := ec.attachment(c)
	if err != nil {
		return ec.fail(c, "preview_attachment", err)
	}

	contentType, inline := services.ResolveDisposition(att.Filename, att.ContentType, att.Content)
	disposition := "attachment"
	if inline {
		disposition = "inline"
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType(disposition, map[string]string{"filename": att.Filename}))
	return c.Send(att.Content)
}

func (ec *EmailController) attachment(c *fiber.Ctx) (*services.AttachmentContent, error) {
	uid, err := strconv.ParseUint(c.Params("uid"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: uid must be a positive number", services.ErrValidation)
	}
	filename := c.Params("filename")
	if unescaped, err := url.PathUnescape(filename); err == nil {
		filename = unescaped
	}
	return ec.service.DownloadAttachment(c.UserContext(), models.UID(uid), filename, c.Query("folder"))
}

// readAttachments collects uploaded files from a multipart body. JSON bodies
// carry none.
func readAttachments(c *fiber.Ctx) ([]models.OutgoingAttachment, error) {
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}

	var attachments []models.OutgoingAttachment
	for _, fh := range form.File["attachments"] {
		if fh.Size > maxAttachmentSize {
			return nil, fmt.Errorf("%s exceeds the %d MB limit", fh.Filename, maxAttachmentSize>>20)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, models.OutgoingAttachment{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get(fiber.HeaderContentType),
			Content:     content,
		})
	}
	return attachments, nil
}

// fail maps service errors onto HTTP statuses. Server side failures are
// reported through LogError.
func (ec *EmailController) fail(c *fiber.Ctx, op string, err error) error {
	switch {
	case errors.Is(err, services.ErrValidation):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, services.ErrNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Not found", err)
	case errors.Is(err, context.Canceled):
		return utils.ErrorResponse(c, fiber.StatusRequestTimeout, "Request canceled", err)
	}

	fields := map[string]interface{}{
		"principal": middleware.Principal(c),
		"path":      c.Path(),
	}
	utils.LogError(op, err, fields)
	if errors.Is(err, services.ErrRemoteUnavailable) {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Mail server unavailable", err)
	}
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Internal server error", err)
}
