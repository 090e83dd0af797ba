package storage

import (
	"context"
	"database/sql"
	"fmt"

	"remesas/internal/matching"
	"remesas/internal/models"
)

// Read-запросы для формирования месячных отчетов. Фильтрация по месяцу
// идет через strftime('%m', fecha_hora), поэтому fecha_hora хранится
// текстом в формате fechaLayout.

// GetOperacionesByMonth возвращает операции типа за указанный месяц
// (1–12) текущего либо любого года со странами.
func (s *Storage) GetOperacionesByMonth(ctx context.Context, tipo models.TipoOperacion, mes int) ([]models.ReporteOperacion, error) {
	opsTable, paisesTable, fkColumn, err := tablesFor(tipo)
	if err != nil {
		return nil, err
	}
	if mes < 1 || mes > 12 {
		return nil, fmt.Errorf("некорректный месяц: %d", mes)
	}

	query := fmt.Sprintf(`
		SELECT o.id, o.monto, o.fecha_hora, GROUP_CONCAT(p.pais)
		FROM %s o
		LEFT JOIN %s p ON p.%s = o.id
		WHERE strftime('%%m', o.fecha_hora) = ?
		GROUP BY o.id
		ORDER BY o.id`, opsTable, paisesTable, fkColumn)

	rows, err := s.db.QueryContext(ctx, query, fmt.Sprintf("%02d", mes))
	if err != nil {
		return nil, fmt.Errorf("не удалось получить операции за месяц %02d: %w", mes, err)
	}
	defer rows.Close()

	var operaciones []models.ReporteOperacion
	for rows.Next() {
		var o models.ReporteOperacion
		var paises sql.NullString
		if err := rows.Scan(&o.ID, &o.Monto, &o.FechaHora, &paises); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки отчета: %w", err)
		}
		if paises.Valid {
			o.Paises = matching.SplitPaises(paises.String)
		}
		operaciones = append(operaciones, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по строкам отчета: %w", err)
	}
	return operaciones, nil
}

// GetConcluidasByMonth возвращает закрытые пары за месяц с общими странами
// envío и recepción. Пары дедуплицируются по (envio_id, recepcion_id),
// берется самая ранняя fecha_hora.
func (s *Storage) GetConcluidasByMonth(ctx context.Context, mes int) ([]models.ReporteConcluida, error) {
	if mes < 1 || mes > 12 {
		return nil, fmt.Errorf("некорректный месяц: %d", mes)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT envio_id, recepcion_id, MIN(fecha_hora)
		FROM concluidas
		WHERE strftime('%m', fecha_hora) = ?
		GROUP BY envio_id, recepcion_id
		ORDER BY MIN(fecha_hora)`,
		fmt.Sprintf("%02d", mes))
	if err != nil {
		return nil, fmt.Errorf("не удалось получить concluidas за месяц %02d: %w", mes, err)
	}
	defer rows.Close()

	var concluidas []models.ReporteConcluida
	for rows.Next() {
		var c models.ReporteConcluida
		if err := rows.Scan(&c.EnvioID, &c.RecepcionID, &c.FechaHora); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки concluidas: %w", err)
		}
		concluidas = append(concluidas, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по concluidas: %w", err)
	}

	for i := range concluidas {
		paisesEnvio, err := s.getPaisesOperacion(ctx, "envio_paises", "envio_id", concluidas[i].EnvioID)
		if err != nil {
			return nil, err
		}
		paisesRecepcion, err := s.getPaisesOperacion(ctx, "recepcion_paises", "recepcion_id", concluidas[i].RecepcionID)
		if err != nil {
			return nil, err
		}
		concluidas[i].PaisesComunes = matching.PaisesComunes(paisesEnvio, paisesRecepcion)
	}
	return concluidas, nil
}
