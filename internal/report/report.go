/*
report — коллаборатор отчетности: строит месячный PDF по envíos,
recepciones и закрытым парам. Пакет пользуется только read-запросами
хранилища и ничего в нем не меняет.
*/
package report

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"remesas/internal/models"
)

// ErrSinDatos: за месяц нет ни операций, ни закрытых пар, PDF не создается.
var ErrSinDatos = errors.New("нет данных за указанный месяц")

// Queries — read-запросы хранилища, которые нужны отчету.
type Queries interface {
	GetOperacionesByMonth(ctx context.Context, tipo models.TipoOperacion, mes int) ([]models.ReporteOperacion, error)
	GetConcluidasByMonth(ctx context.Context, mes int) ([]models.ReporteConcluida, error)
}

// Generate строит reporte_AAAA_MM.pdf в каталоге dir и возвращает путь
// к файлу. Год берется текущий.
func Generate(ctx context.Context, q Queries, mes int, dir string) (string, error) {
	envios, err := q.GetOperacionesByMonth(ctx, models.TipoEnvio, mes)
	if err != nil {
		return "", err
	}
	recepciones, err := q.GetOperacionesByMonth(ctx, models.TipoRecepcion, mes)
	if err != nil {
		return "", err
	}
	concluidas, err := q.GetConcluidasByMonth(ctx, mes)
	if err != nil {
		return "", err
	}

	if len(envios) == 0 && len(recepciones) == 0 && len(concluidas) == 0 {
		return "", ErrSinDatos
	}

	filename := filepath.Join(dir, fmt.Sprintf("reporte_%d_%02d.pdf", time.Now().Year(), mes))

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	writeOperaciones(pdf, tr, "Envíos", envios)
	writeOperaciones(pdf, tr, "Recepciones", recepciones)
	writeConcluidas(pdf, tr, concluidas)

	if err := pdf.OutputFileAndClose(filename); err != nil {
		return "", fmt.Errorf("не удалось записать PDF: %w", err)
	}
	return filename, nil
}

func writeHeading(pdf *gofpdf.Fpdf, tr func(string) string, title string) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, tr(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
}

func writeOperaciones(pdf *gofpdf.Fpdf, tr func(string) string, title string, operaciones []models.ReporteOperacion) {
	writeHeading(pdf, tr, title)

	pdf.SetFont("Helvetica", "B", 10)
	widths := []float64{20, 35, 45, 90}
	for i, h := range []string{"ID", "Monto", "Fecha", tr("Países")} {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 10)

	for _, o := range operaciones {
		paises := "N/A"
		if len(o.Paises) > 0 {
			paises = strings.Join(o.Paises, ", ")
		}
		pdf.CellFormat(widths[0], 7, fmt.Sprintf("%d", o.ID), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, fmt.Sprintf("$%.2f", o.Monto), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 7, o.FechaHora, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[3], 7, tr(paises), "1", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func writeConcluidas(pdf *gofpdf.Fpdf, tr func(string) string, concluidas []models.ReporteConcluida) {
	writeHeading(pdf, tr, "Matches Concluidos")

	pdf.SetFont("Helvetica", "B", 10)
	widths := []float64{25, 30, 45, 90}
	for i, h := range []string{tr("ID Envío"), tr("ID Recepción"), "Fecha", tr("País Operativo")} {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 10)

	for _, c := range concluidas {
		comunes := "N/A"
		if len(c.PaisesComunes) > 0 {
			comunes = strings.Join(c.PaisesComunes, ", ")
		}
		pdf.CellFormat(widths[0], 7, fmt.Sprintf("%d", c.EnvioID), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, fmt.Sprintf("%d", c.RecepcionID), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 7, c.FechaHora, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[3], 7, tr(comunes), "1", 1, "L", false, 0, "")
	}
}
