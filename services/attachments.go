package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"mailcache/mailbox"
	"mailcache/models"
)

type AttachmentContent struct {
	Filename    string
	ContentType string
	Content     []byte
	Folder      string
}

var errNoSuchPart = errors.New("attachment not in message")

// DownloadAttachment finds the message with the given uid and returns the
// named attachment. uids are only unique per folder, so the hinted folder is
// tried first, then the standard folders, then everything else the server lists.
func (s *EmailService) DownloadAttachment(ctx context.Context, uid models.UID, filename, folderHint string) (*AttachmentContent, error) {
	if uid == 0 || filename == "" {
		return nil, fmt.Errorf("download attachment: %w: uid and filename are required", ErrValidation)
	}

	sess, err := s.opener.Open(ctx)
	if err != nil {
		return nil, remoteErr("open session", err)
	}
	defer sess.Close()

	logger := s.logger.WithFields(logrus.Fields{"uid": uid, "filename": filename})
	tried := map[string]bool{}
	try := func(name string) (*AttachmentContent, error) {
		if tried[name] {
			return nil, nil
		}
		tried[name] = true

		raw, err := sess.FetchByUID(ctx, name, uid)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if !errors.Is(err, mailbox.ErrNotFound) {
				logger.WithError(err).WithField("folder", name).Debug("Probing folder failed")
			}
			return nil, nil
		}
		att, err := extractAttachment(raw.Literal, filename)
		if err != nil {
			if !errors.Is(err, errNoSuchPart) {
				logger.WithError(err).WithField("folder", name).Warn("Reading message parts failed")
			}
			return nil, nil
		}
		att.Folder = name
		return att, nil
	}

	var order []string
	if folderHint != "" && models.IsFolderKey(folderHint) {
		f, _ := s.folders.Resolve(folderHint)
		order = append(order, f.Name)
	}
	for _, f := range s.folders.Standard() {
		order = append(order, f.Name)
	}
	for _, name := range order {
		att, err := try(name)
		if err != nil {
			return nil, remoteErr("download attachment", err)
		}
		if att != nil {
			return att, nil
		}
	}

	others, err := sess.ListFolders(ctx)
	if err != nil {
		return nil, remoteErr("list folders", err)
	}
	for _, name := range others {
		att, err := try(name)
		if err != nil {
			return nil, remoteErr("download attachment", err)
		}
		if att != nil {
			return att, nil
		}
	}
	return nil, fmt.Errorf("attachment %q on uid %d: %w", filename, uid, ErrNotFound)
}

// extractAttachment streams the message parts until one carries filename.
func extractAttachment(literal []byte, filename string) (*AttachmentContent, error) {
	mr, err := mail.CreateReader(bytes.NewReader(literal))
	if err != nil {
		return nil, err
	}
	defer mr.Close()

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return nil, errNoSuchPart
		}
		if err != nil {
			return nil, err
		}

		var name, contentType string
		switch h := p.Header.(type) {
		case *mail.AttachmentHeader:
			name, _ = h.Filename()
			contentType, _, _ = h.ContentType()
		case *mail.InlineHeader:
			_, params, _ := h.ContentDisposition()
			name = params["filename"]
			var ctParams map[string]string
			contentType, ctParams, _ = h.ContentType()
			if name == "" {
				name = ctParams["name"]
			}
		}
		if name != filename {
			continue
		}

		content, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("read attachment %q: %w", filename, err)
		}
		return &AttachmentContent{Filename: name, ContentType: contentType, Content: content}, nil
	}
}

var inlineTypes = regexp.MustCompile(`(?i)image|pdf|text`)

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".log":  "text/plain",
}

// ResolveDisposition picks the content type to serve and whether a browser
// may render it inline. Missing or generic declared types are replaced by an
// extension guess, then by sniffing the content.
func ResolveDisposition(filename, declared string, content []byte) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(declared))
	if base, _, err := mime.ParseMediaType(ct); err == nil {
		ct = base
	}
	if ct == "" || ct == "application/octet-stream" {
		ext := strings.ToLower(filepath.Ext(filename))
		if guess, ok := extensionTypes[ext]; ok {
			ct = guess
		} else if guess := mime.TypeByExtension(ext); guess != "" {
			ct = guess
		} else {
			ct = mimetype.Detect(content).String()
		}
	}
	return ct, inlineTypes.MatchString(ct)
}
