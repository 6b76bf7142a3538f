package util

import (
	"net/http"
	"path/filepath"
	"strings"
)

// SniffMimeForOCR: формат для Yandex Vision OCR ("JPEG" | "PNG" | "PDF").
func SniffMimeForOCR(b []byte) string {
	// JPEG: FF D8
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return "JPEG"
	}
	// PNG
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return "PNG"
	}
	// PDF
	if len(b) >= 5 && b[0] == '%' && b[1] == 'P' && b[2] == 'D' && b[3] == 'F' && b[4] == '-' {
		return "PDF"
	}
	return ""
}

func MakeDataURL(mime, b64 string) string {
	return "data:" + mime + ";base64," + b64
}

var extMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
}

// PickMIME берём явный MIME, затем по расширению файла, иначе детектим по байтам.
func PickMIME(explicit, filename string, data []byte) string {
	if exp := strings.TrimSpace(explicit); exp != "" {
		return exp
	}
	if m, ok := extMIME[strings.ToLower(filepath.Ext(filename))]; ok {
		return m
	}
	if len(data) > 0 {
		return http.DetectContentType(data) // вернёт image/jpeg|png|webp|application/pdf и т.д.
	}
	return "image/jpeg"
}
