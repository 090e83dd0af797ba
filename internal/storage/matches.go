package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"remesas/internal/matching"
	"remesas/internal/models"
)

// ——————————————————————————————
// Автоматический подбор пар (60–140% или ±10000)
// ——————————————————————————————

// AutoMatch перебирает все пары DISPONIBLE envío × DISPONIBLE recepción и
// записывает совместимые в utilizables. Повторный запуск идемпотентен:
// вставка идет через INSERT OR IGNORE по UNIQUE(envio_id, recepcion_id).
func (s *Storage) AutoMatch(ctx context.Context) error {
	envios, err := s.getOperacionesDisponibles(ctx, models.TipoEnvio)
	if err != nil {
		return err
	}
	recepciones, err := s.getOperacionesDisponibles(ctx, models.TipoRecepcion)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback()

	fecha := currentFecha()
	for _, e := range envios {
		for _, r := range recepciones {
			if !matching.Compatible(e.Monto, e.Paises, r.Monto, r.Paises) {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO utilizables
				(envio_id, recepcion_id, monto_envio, monto_recepcion, diferencia, estado, fecha_hora)
				VALUES (?, ?, ?, ?, ?, 'DISPONIBLE', ?)`,
				e.ID, r.ID, e.Monto, r.Monto, matching.Diferencia(e.Monto, r.Monto), fecha)
			if err != nil {
				return fmt.Errorf("ошибка записи кандидатной пары (%d, %d): %w", e.ID, r.ID, err)
			}
		}
	}

	return tx.Commit()
}

// ——————————————————————————————
// Read-представления
// ——————————————————————————————

// GetUtilizables возвращает все кандидатные пары со странами обеих сторон.
func (s *Storage) GetUtilizables(ctx context.Context) ([]models.Utilizable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			u.id,
			u.envio_id,
			u.recepcion_id,
			u.monto_envio,
			u.monto_recepcion,
			u.diferencia,
			u.estado,
			GROUP_CONCAT(DISTINCT ep.pais),
			GROUP_CONCAT(DISTINCT rp.pais),
			u.fecha_hora
		FROM utilizables u
		LEFT JOIN envio_paises ep ON ep.envio_id = u.envio_id
		LEFT JOIN recepcion_paises rp ON rp.recepcion_id = u.recepcion_id
		GROUP BY u.id
		ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить utilizables: %w", err)
	}
	defer rows.Close()

	var utilizables []models.Utilizable
	for rows.Next() {
		var u models.Utilizable
		var paisesEnvio, paisesRecepcion sql.NullString
		err := rows.Scan(&u.ID, &u.EnvioID, &u.RecepcionID,
			&u.MontoEnvio, &u.MontoRecepcion, &u.Diferencia, &u.Estado,
			&paisesEnvio, &paisesRecepcion, &u.FechaHora)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки utilizables: %w", err)
		}
		if paisesEnvio.Valid {
			u.PaisesEnvio = matching.SplitPaises(paisesEnvio.String)
		}
		if paisesRecepcion.Valid {
			u.PaisesRecepcion = matching.SplitPaises(paisesRecepcion.String)
		}
		utilizables = append(utilizables, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по utilizables: %w", err)
	}
	return utilizables, nil
}

// GetAvailableMatches: для каждого DISPONIBLE envío — до двух DISPONIBLE
// recepciones, проходящих предикат совместимости. Поиск кандидаток
// обрывается после двух найденных; порядок — естественный порядок хранения.
func (s *Storage) GetAvailableMatches(ctx context.Context) ([]models.AvailableMatch, error) {
	envios, err := s.getOperacionesDisponibles(ctx, models.TipoEnvio)
	if err != nil {
		return nil, err
	}
	recepciones, err := s.getOperacionesDisponibles(ctx, models.TipoRecepcion)
	if err != nil {
		return nil, err
	}

	var resultado []models.AvailableMatch
	for _, e := range envios {
		var candidatas []models.Operacion
		for _, r := range recepciones {
			if !matching.Compatible(e.Monto, e.Paises, r.Monto, r.Paises) {
				continue
			}
			candidatas = append(candidatas, r)
			if len(candidatas) >= 2 {
				break
			}
		}
		if len(candidatas) > 0 {
			resultado = append(resultado, models.AvailableMatch{Envio: e, Candidatas: candidatas})
		}
	}
	return resultado, nil
}

// GetPrioritizedMatches возвращает до пяти групп доступных матчей,
// отсортированных по (приоритет по убыванию, id envío по возрастанию).
// Вес приоритета константный, поэтому ранжирование фактически сводится
// к порядку id.
func (s *Storage) GetPrioritizedMatches(ctx context.Context) ([]models.PrioritizedMatch, error) {
	matches, err := s.GetAvailableMatches(ctx)
	if err != nil {
		return nil, err
	}

	prioritized := make([]models.PrioritizedMatch, 0, len(matches))
	for _, m := range matches {
		prioritized = append(prioritized, models.PrioritizedMatch{AvailableMatch: m, Prioridad: 1})
	}
	sort.SliceStable(prioritized, func(i, j int) bool {
		if prioritized[i].Prioridad != prioritized[j].Prioridad {
			return prioritized[i].Prioridad > prioritized[j].Prioridad
		}
		return prioritized[i].Envio.ID < prioritized[j].Envio.ID
	})

	if len(prioritized) > 5 {
		prioritized = prioritized[:5]
	}
	return prioritized, nil
}

// GetPendingMatches возвращает pendiente-пары с суммами и странами обеих
// операций (страны без дубликатов), по возрастанию id pendiente.
func (s *Storage) GetPendingMatches(ctx context.Context) ([]models.PendingMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			p.id,
			e.id,
			e.monto,
			GROUP_CONCAT(DISTINCT ep.pais),
			r.id,
			r.monto,
			GROUP_CONCAT(DISTINCT rp.pais)
		FROM pendientes p
		JOIN envios e ON e.id = p.envio_id
		JOIN recepciones r ON r.id = p.recepcion_id
		LEFT JOIN envio_paises ep ON ep.envio_id = e.id
		LEFT JOIN recepcion_paises rp ON rp.recepcion_id = r.id
		GROUP BY p.id
		ORDER BY p.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить pendientes: %w", err)
	}
	defer rows.Close()

	var pendientes []models.PendingMatch
	for rows.Next() {
		var p models.PendingMatch
		var paisesEnvio, paisesRecepcion sql.NullString
		err := rows.Scan(&p.PendingID, &p.EnvioID, &p.MontoEnvio, &paisesEnvio,
			&p.RecepcionID, &p.MontoRecepcion, &paisesRecepcion)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки pendientes: %w", err)
		}
		if paisesEnvio.Valid {
			p.PaisesEnvio = matching.SplitPaises(paisesEnvio.String)
		}
		if paisesRecepcion.Valid {
			p.PaisesRecepcion = matching.SplitPaises(paisesRecepcion.String)
		}
		pendientes = append(pendientes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по pendientes: %w", err)
	}
	return pendientes, nil
}

// ——————————————————————————————
// Переходы жизненного цикла
// ——————————————————————————————

// ConfirmMatch переводит кандидатную пару в pendiente: вставляет запись в
// pendientes, помечает обе операции NO DISPONIBLE и удаляет запись из
// utilizables. Все три шага — одна транзакция.
func (s *Storage) ConfirmMatch(ctx context.Context, matchID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &TransitionError{Code: CodeInternalError, ID: matchID,
			OriginalErr: fmt.Errorf("не удалось начать транзакцию: %w", err)}
	}
	defer tx.Rollback()

	var envioID, recepcionID int64
	err = tx.QueryRowContext(ctx,
		"SELECT envio_id, recepcion_id FROM utilizables WHERE id = ?", matchID).
		Scan(&envioID, &recepcionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &TransitionError{Code: CodeMatchNotFound, ID: matchID, OriginalErr: ErrMatchNotFound}
		}
		return &TransitionError{Code: CodeInternalError, ID: matchID,
			OriginalErr: fmt.Errorf("ошибка поиска матча %d: %w", matchID, err)}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO pendientes (envio_id, recepcion_id, fecha_hora) VALUES (?, ?, ?)",
		envioID, recepcionID, currentFecha())
	if err != nil {
		return &TransitionError{Code: CodeInternalError, ID: matchID,
			OriginalErr: fmt.Errorf("ошибка записи pendiente: %w", err)}
	}

	if err := setEstados(ctx, tx, envioID, recepcionID, models.EstadoNoDisponible); err != nil {
		return &TransitionError{Code: CodeInternalError, ID: matchID, OriginalErr: err}
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM utilizables WHERE envio_id = ? AND recepcion_id = ?",
		envioID, recepcionID)
	if err != nil {
		return &TransitionError{Code: CodeInternalError, ID: matchID,
			OriginalErr: fmt.Errorf("ошибка удаления из utilizables: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return &TransitionError{Code: CodeInternalError, ID: matchID,
			OriginalErr: fmt.Errorf("не удалось зафиксировать транзакцию: %w", err)}
	}
	return nil
}

// RejectMatch удаляет кандидатную пару по id. Статусы операций не меняются.
func (s *Storage) RejectMatch(ctx context.Context, matchID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM utilizables WHERE id = ?", matchID)
	if err != nil {
		return &TransitionError{Code: CodeInternalError, ID: matchID,
			OriginalErr: fmt.Errorf("ошибка удаления матча %d: %w", matchID, err)}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &TransitionError{Code: CodeInternalError, ID: matchID, OriginalErr: err}
	}
	if affected == 0 {
		return &TransitionError{Code: CodeMatchNotFound, ID: matchID, OriginalErr: ErrMatchNotFound}
	}
	return nil
}

// ConcludeMatch закрывает pendiente-пару: добавляет запись в concluidas
// (append-only, ровно одна запись), помечает обе операции NO DISPONIBLE
// и удаляет пару из pendientes. Все шаги — одна транзакция.
func (s *Storage) ConcludeMatch(ctx context.Context, pendingID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &TransitionError{Code: CodeInternalError, ID: pendingID,
			OriginalErr: fmt.Errorf("не удалось начать транзакцию: %w", err)}
	}
	defer tx.Rollback()

	var envioID, recepcionID int64
	err = tx.QueryRowContext(ctx,
		"SELECT envio_id, recepcion_id FROM pendientes WHERE id = ?", pendingID).
		Scan(&envioID, &recepcionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &TransitionError{Code: CodePendienteNotFound, ID: pendingID, OriginalErr: ErrPendienteNotFound}
		}
		return &TransitionError{Code: CodeInternalError, ID: pendingID,
			OriginalErr: fmt.Errorf("ошибка поиска pendiente %d: %w", pendingID, err)}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO concluidas (envio_id, recepcion_id, fecha_hora) VALUES (?, ?, ?)",
		envioID, recepcionID, currentFecha())
	if err != nil {
		return &TransitionError{Code: CodeInternalError, ID: pendingID,
			OriginalErr: fmt.Errorf("ошибка записи concluida: %w", err)}
	}

	if err := setEstados(ctx, tx, envioID, recepcionID, models.EstadoNoDisponible); err != nil {
		return &TransitionError{Code: CodeInternalError, ID: pendingID, OriginalErr: err}
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM pendientes WHERE envio_id = ? AND recepcion_id = ?",
		envioID, recepcionID)
	if err != nil {
		return &TransitionError{Code: CodeInternalError, ID: pendingID,
			OriginalErr: fmt.Errorf("ошибка удаления из pendientes: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return &TransitionError{Code: CodeInternalError, ID: pendingID,
			OriginalErr: fmt.Errorf("не удалось зафиксировать транзакцию: %w", err)}
	}
	return nil
}

// ReactivatePending удаляет pendiente-пару и возвращает обеим операциям
// статус DISPONIBLE. Кандидатная пара автоматически не восстанавливается:
// она появится снова только если её найдет следующий пересчет (AutoMatch).
func (s *Storage) ReactivatePending(ctx context.Context, envioID, recepcionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM pendientes WHERE envio_id = ? AND recepcion_id = ?",
		envioID, recepcionID)
	if err != nil {
		return fmt.Errorf("ошибка удаления pendiente (%d, %d): %w", envioID, recepcionID, err)
	}

	if err := setEstados(ctx, tx, envioID, recepcionID, models.EstadoDisponible); err != nil {
		return err
	}

	return tx.Commit()
}

// setEstados выставляет статус паре операций внутри транзакции.
func setEstados(ctx context.Context, tx *sql.Tx, envioID, recepcionID int64, estado models.Estado) error {
	_, err := tx.ExecContext(ctx, "UPDATE envios SET estado = ? WHERE id = ?", estado, envioID)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса envío %d: %w", envioID, err)
	}
	_, err = tx.ExecContext(ctx, "UPDATE recepciones SET estado = ? WHERE id = ?", estado, recepcionID)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса recepción %d: %w", recepcionID, err)
	}
	return nil
}
