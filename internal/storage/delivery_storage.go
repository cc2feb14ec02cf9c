package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/gigwork/settlement-backend/internal/models"
)

// Разрешённые MIME типы файлов сдачи: архивы, документы, изображения, медиа.
var allowedMimeTypes = map[string]bool{
	"application/zip":             true,
	"application/gzip":            true,
	"application/x-tar":           true,
	"application/x-7z-compressed": true,
	"application/pdf":             true,
	"application/vnd.ms-excel":    true,
	"application/msword":          true,
	"image/jpeg":                  true,
	"image/png":                   true,
	"image/gif":                   true,
	"image/webp":                  true,
	"audio/mpeg":                  true,
	"video/mp4":                   true,
}

// DeliveryStorage отвечает за файловое хранилище сдач работ.
type DeliveryStorage struct {
	rootPath       string
	maxUploadBytes int64
}

func NewDeliveryStorage(rootPath string, maxUploadMB int64) (*DeliveryStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}
	return &DeliveryStorage{
		rootPath:       rootPath,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
	}, nil
}

// Save проверяет реальный тип файла по сигнатуре, сохраняет его
// в каталог заказа и возвращает метаданные для записи сдачи.
func (s *DeliveryStorage) Save(ctx context.Context, orderID uuid.UUID, originalName string, r io.Reader) (*models.DeliveryFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	head := make([]byte, 261)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("storage: ошибка чтения файла: %w", err)
	}
	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		return nil, fmt.Errorf("storage: не удалось определить тип файла")
	}
	if !allowedMimeTypes[kind.MIME.Value] {
		return nil, fmt.Errorf("storage: неподдерживаемый тип файла %s", kind.MIME.Value)
	}

	safeName := sanitizeFilename(originalName)
	fileName := fmt.Sprintf("%d_%s", time.Now().UnixNano(), safeName)
	orderDir := filepath.Join(s.rootPath, orderID.String())
	if err := os.MkdirAll(orderDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог заказа: %w", err)
	}

	targetPath := filepath.Join(orderDir, fileName)
	tempPath := targetPath + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("storage: не удалось создать файл: %w", err)
	}
	defer f.Close()

	limited := io.LimitedReader{R: io.MultiReader(bytes.NewReader(head[:n]), r), N: s.maxUploadBytes + 1}
	written, err := io.Copy(f, &limited)
	if err != nil {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("storage: ошибка записи файла: %w", err)
	}
	if written > s.maxUploadBytes {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("storage: размер файла превышает лимит %d байт", s.maxUploadBytes)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("storage: ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return nil, fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}

	return &models.DeliveryFile{
		Name: safeName,
		Path: filepath.Join(orderID.String(), fileName),
		Size: written,
		Mime: kind.MIME.Value,
	}, nil
}

// Delete удаляет файл из хранилища.
func (s *DeliveryStorage) Delete(ctx context.Context, relativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(s.rootPath, relativePath)
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: не удалось удалить файл: %w", err)
	}
	return nil
}

// sanitizeFilename удаляет потенциально опасные символы.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" {
		name = "delivery"
	}
	return name
}
