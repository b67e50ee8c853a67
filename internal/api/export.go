package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/xuri/excelize/v2"
)

// ExportConversations формирует Excel-отчет по всем диалогам: лист со сводкой
// по диалогам и лист со всеми сообщениями.
// ExportConversations builds an Excel report of all conversations: one sheet
// with a per-conversation summary and one with every message.
func (h *apiHandler) ExportConversations(w http.ResponseWriter, r *http.Request) {
	conversations := h.deps.Store.ListConversations()

	f := excelize.NewFile()

	convSheet := "Диалоги"
	index, _ := f.NewSheet(convSheet) // Игнорируем ошибку, если лист уже существует / Ignore error if sheet already exists
	f.DeleteSheet("Sheet1")           // Удаляем стандартный лист / Delete default sheet
	f.SetActiveSheet(index)

	convHeaders := []string{"ID", "Пользователь", "UserID", "Статус", "Создан", "Последняя активность", "Сообщений"}
	for i, header := range convHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(convSheet, cell, header)
	}

	msgSheet := "Сообщения"
	f.NewSheet(msgSheet)
	msgHeaders := []string{"Диалог", "Пользователь", "Отправитель", "Текст", "Время"}
	for i, header := range msgHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(msgSheet, cell, header)
	}

	msgRow := 2
	for i, conv := range conversations {
		row := i + 2
		f.SetCellValue(convSheet, fmt.Sprintf("A%d", row), conv.ID)
		f.SetCellValue(convSheet, fmt.Sprintf("B%d", row), conv.Username)
		f.SetCellValue(convSheet, fmt.Sprintf("C%d", row), conv.UserID)
		f.SetCellValue(convSheet, fmt.Sprintf("D%d", row), conv.Status)
		f.SetCellValue(convSheet, fmt.Sprintf("E%d", row), conv.CreatedAt.Format("02.01.2006 15:04"))
		f.SetCellValue(convSheet, fmt.Sprintf("F%d", row), conv.LastActivity.Format("02.01.2006 15:04"))
		f.SetCellValue(convSheet, fmt.Sprintf("G%d", row), len(conv.Messages))

		for _, msg := range conv.Messages {
			f.SetCellValue(msgSheet, fmt.Sprintf("A%d", msgRow), conv.ID)
			f.SetCellValue(msgSheet, fmt.Sprintf("B%d", msgRow), conv.Username)
			f.SetCellValue(msgSheet, fmt.Sprintf("C%d", msgRow), msg.Sender)
			f.SetCellValue(msgSheet, fmt.Sprintf("D%d", msgRow), msg.Text)
			f.SetCellValue(msgSheet, fmt.Sprintf("E%d", msgRow), msg.Timestamp.Format("02.01.2006 15:04:05"))
			msgRow++
		}
	}

	filename := fmt.Sprintf("conversations_%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := f.Write(w); err != nil {
		log.Printf("ExportConversations: ошибка записи Excel-файла: %v", err)
	}
}

// GetBookingQR отдает QR-код настроенной ссылки на запись в PNG.
func (h *apiHandler) GetBookingQR(w http.ResponseWriter, r *http.Request) {
	settings := h.deps.Config.Snapshot()
	if settings.BookingURL == "" {
		writeJSONError(w, http.StatusNotFound, "Booking URL is not configured")
		return
	}

	// qrcode.Medium - уровень коррекции ошибок, 256 - размер QR-кода в пикселях.
	qrBytes, err := qrcode.Encode(settings.BookingURL, qrcode.Medium, 256)
	if err != nil {
		log.Printf("GetBookingQR: ошибка кодирования QR-кода для ссылки '%s': %v", settings.BookingURL, err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to encode QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(qrBytes)
}
