/*
storage предоставляет собой слой для взаимодействия с базой данных SQLite
и содержит всю логику движка сопоставления.

Основной тип в этом пакете - Storage, который содержит в себе подключение
к базе данных и предоставляет методы для работы с ней.

Функции и методы:
  - New: Создает новый экземпляр Storage и устанавливает соединение с базой данных.
  - Init: Инициализирует базу данных, создавая необходимые таблицы
    (`envios`, `envio_paises`, `recepciones`, `recepcion_paises`,
    `utilizables`, `pendientes`, `concluidas`, `paises`) и записывая
    страны по умолчанию.
  - AddOperacion / ModifyOperacion: CRUD операций envío/recepción; после
    каждой мутации синхронно пересчитываются кандидатные пары (AutoMatch).
  - AutoMatch: Полный перебор DISPONIBLE-операций; совместимые пары
    записываются в `utilizables` через INSERT OR IGNORE, поэтому повторный
    запуск не создает дубликатов.
  - ConfirmMatch / RejectMatch / ConcludeMatch / ReactivatePending: Переходы
    пары по жизненному циклу. Каждый многошаговый переход выполняется
    в рамках одной транзакции для обеспечения атомарности.
  - GetAvailableMatches / GetPrioritizedMatches / GetPendingMatches /
    GetUtilizables / GetLastOperaciones: Read-представления для UI.
  - GetPaises / AddPais: Справочник стран.
*/
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"remesas/internal/matching"
	"remesas/internal/models"
)

// Формат fecha_hora в базе. Хранится текстом, чтобы работали
// месячные фильтры через strftime('%m', ...).
const fechaLayout = "2006-01-02 15:04:05"

type Storage struct {
	db *sql.DB
}

// Создает новый экземпляр Storage и устанавливает соединение с базой данных.
func New(storagePath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenDatabase, err)
	}

	// Одно соединение: модель с единственным логическим писателем.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectDatabase, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func currentFecha() string {
	return time.Now().Format(fechaLayout)
}

// Инициализирует базу данных, создавая необходимые таблицы.
// Если справочник стран пуст, записывает страны по умолчанию.
func (s *Storage) Init(ctx context.Context) error {
	queries := []struct {
		name  string
		query string
	}{
		{"envios", `
		CREATE TABLE IF NOT EXISTS envios (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		monto REAL NOT NULL,
		estado TEXT NOT NULL CHECK(estado IN ('DISPONIBLE','NO DISPONIBLE')),
		fecha_hora TEXT NOT NULL
		);`},
		{"envio_paises", `
		CREATE TABLE IF NOT EXISTS envio_paises (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		envio_id INTEGER NOT NULL,
		pais TEXT NOT NULL
		);`},
		{"recepciones", `
		CREATE TABLE IF NOT EXISTS recepciones (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		monto REAL NOT NULL,
		estado TEXT NOT NULL CHECK(estado IN ('DISPONIBLE','NO DISPONIBLE')),
		fecha_hora TEXT NOT NULL
		);`},
		{"recepcion_paises", `
		CREATE TABLE IF NOT EXISTS recepcion_paises (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recepcion_id INTEGER NOT NULL,
		pais TEXT NOT NULL
		);`},
		{"utilizables", `
		CREATE TABLE IF NOT EXISTS utilizables (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		envio_id INTEGER NOT NULL REFERENCES envios(id),
		recepcion_id INTEGER NOT NULL REFERENCES recepciones(id),
		monto_envio REAL NOT NULL,
		monto_recepcion REAL NOT NULL,
		diferencia REAL NOT NULL,
		estado TEXT NOT NULL CHECK(estado IN ('DISPONIBLE','NO DISPONIBLE')),
		fecha_hora TEXT NOT NULL,
		UNIQUE(envio_id, recepcion_id)
		);`},
		{"pendientes", `
		CREATE TABLE IF NOT EXISTS pendientes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		envio_id INTEGER NOT NULL REFERENCES envios(id),
		recepcion_id INTEGER NOT NULL REFERENCES recepciones(id),
		fecha_hora TEXT NOT NULL,
		UNIQUE(envio_id, recepcion_id)
		);`},
		{"concluidas", `
		CREATE TABLE IF NOT EXISTS concluidas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		envio_id INTEGER NOT NULL,
		recepcion_id INTEGER NOT NULL,
		fecha_hora TEXT NOT NULL
		);`},
		{"paises", `
		CREATE TABLE IF NOT EXISTS paises (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nombre TEXT UNIQUE NOT NULL
		);`},
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q.query); err != nil {
			return fmt.Errorf("не удалось создать таблицу %s: %w", q.name, err)
		}
	}

	// Страны по умолчанию.
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO paises (nombre) VALUES (?), (?)",
		"ARGENTINA", "USA")
	if err != nil {
		return fmt.Errorf("не удалось записать страны по умолчанию: %w", err)
	}

	return nil
}

// Таблицы для типа операции: основная, таблица стран и её внешний ключ.
func tablesFor(tipo models.TipoOperacion) (opsTable, paisesTable, fkColumn string, err error) {
	switch tipo {
	case models.TipoEnvio:
		return "envios", "envio_paises", "envio_id", nil
	case models.TipoRecepcion:
		return "recepciones", "recepcion_paises", "recepcion_id", nil
	default:
		return "", "", "", fmt.Errorf("неизвестный тип операции: %s", tipo)
	}
}

// ——————————————————————————————
// Справочник стран
// ——————————————————————————————

// GetPaises возвращает справочник стран. Ошибка хранилища не фатальна:
// логируется, наружу уходит пустой список.
func (s *Storage) GetPaises(ctx context.Context) []string {
	rows, err := s.db.QueryContext(ctx, "SELECT nombre FROM paises ORDER BY id")
	if err != nil {
		log.Printf("ошибка чтения справочника стран: %v", err)
		return nil
	}
	defer rows.Close()

	var paises []string
	for rows.Next() {
		var nombre string
		if err := rows.Scan(&nombre); err != nil {
			log.Printf("ошибка сканирования строки paises: %v", err)
			return paises
		}
		paises = append(paises, nombre)
	}
	if err := rows.Err(); err != nil {
		log.Printf("ошибка при итерации по paises: %v", err)
	}
	return paises
}

// AddPais добавляет страну в справочник (идемпотентно) и возвращает
// обновленный список. Ошибка записи не блокирует вызывающего:
// логируется, возвращается текущий список.
func (s *Storage) AddPais(ctx context.Context, raw string) []string {
	nombre := matching.NormalizePais(raw)
	if nombre == "" {
		return s.GetPaises(ctx)
	}

	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO paises (nombre) VALUES (?)", nombre)
	if err != nil {
		log.Printf("ошибка добавления страны %s: %v", nombre, err)
	} else {
		log.Printf("страна %s добавлена в справочник", nombre)
	}
	return s.GetPaises(ctx)
}

// ——————————————————————————————
// CRUD операций envío/recepción
// ——————————————————————————————

// checkDuplicado: существует ли операция того же типа с той же суммой
// и тем же набором стран.
func (s *Storage) checkDuplicado(ctx context.Context, tipo models.TipoOperacion, monto float64, paises []string) (bool, error) {
	opsTable, paisesTable, fkColumn, err := tablesFor(tipo)
	if err != nil {
		return false, err
	}

	nuevo := make(map[string]struct{}, len(paises))
	for _, p := range paises {
		nuevo[p] = struct{}{}
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE monto = ?", opsTable), monto)
	if err != nil {
		return false, fmt.Errorf("ошибка поиска дубликатов: %w", err)
	}
	defer rows.Close()

	var candidatos []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return false, fmt.Errorf("ошибка сканирования кандидата на дубликат: %w", err)
		}
		candidatos = append(candidatos, id)
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("ошибка при итерации по кандидатам на дубликат: %w", err)
	}

	for _, id := range candidatos {
		existentes, err := s.getPaisesOperacion(ctx, paisesTable, fkColumn, id)
		if err != nil {
			return false, err
		}
		if len(existentes) != len(nuevo) {
			continue
		}
		igual := true
		for _, p := range existentes {
			if _, ok := nuevo[p]; !ok {
				igual = false
				break
			}
		}
		if igual {
			return true, nil
		}
	}
	return false, nil
}

// AddOperacion записывает новую операцию со статусом DISPONIBLE и её страны,
// после чего синхронно запускает пересчет кандидатных пар.
// Валидация выполняется до любой записи.
func (s *Storage) AddOperacion(ctx context.Context, tipo models.TipoOperacion, monto float64, paisesStr string) (int64, error) {
	opsTable, paisesTable, fkColumn, err := tablesFor(tipo)
	if err != nil {
		return 0, err
	}

	if monto <= 0 {
		return 0, ErrMontoInvalido
	}
	paises := matching.SplitPaises(paisesStr)
	if len(paises) == 0 {
		return 0, ErrSinPaises
	}

	dup, err := s.checkDuplicado(ctx, tipo, monto, paises)
	if err != nil {
		return 0, err
	}
	if dup {
		return 0, ErrOperacionDuplicada
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (monto, estado, fecha_hora) VALUES (?, 'DISPONIBLE', ?)", opsTable),
		monto, currentFecha())
	if err != nil {
		return 0, fmt.Errorf("ошибка записи операции: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("не удалось получить id операции: %w", err)
	}

	for _, pais := range paises {
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (%s, pais) VALUES (?, ?)", paisesTable, fkColumn),
			id, pais)
		if err != nil {
			return 0, fmt.Errorf("ошибка записи страны операции: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("не удалось зафиксировать транзакцию: %w", err)
	}

	if err := s.AutoMatch(ctx); err != nil {
		log.Printf("ошибка пересчета кандидатных пар после добавления %s %d: %v", tipo, id, err)
	}

	return id, nil
}

// ModifyOperacion обновляет сумму и/или полностью заменяет набор стран
// операции с данным id. Операция ищется сперва среди envíos, затем среди
// recepciones. После изменения запускается полный пересчет кандидатных пар.
func (s *Storage) ModifyOperacion(ctx context.Context, id int64, monto *float64, paisesStr *string) error {
	if monto == nil && paisesStr == nil {
		return nil
	}
	if monto != nil && *monto <= 0 {
		return ErrMontoInvalido
	}

	var paises []string
	if paisesStr != nil {
		paises = matching.SplitPaises(*paisesStr)
		if len(paises) == 0 {
			return ErrSinPaises
		}
	}

	tipo, err := s.findTipoOperacion(ctx, id)
	if err != nil {
		return err
	}
	opsTable, paisesTable, fkColumn, err := tablesFor(tipo)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback()

	if monto != nil {
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET monto = ? WHERE id = ?", opsTable), *monto, id)
		if err != nil {
			return fmt.Errorf("ошибка обновления суммы операции %d: %w", id, err)
		}
	}

	if paisesStr != nil {
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s = ?", paisesTable, fkColumn), id)
		if err != nil {
			return fmt.Errorf("ошибка очистки стран операции %d: %w", id, err)
		}
		for _, pais := range paises {
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf("INSERT INTO %s (%s, pais) VALUES (?, ?)", paisesTable, fkColumn),
				id, pais)
			if err != nil {
				return fmt.Errorf("ошибка записи страны операции %d: %w", id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("не удалось зафиксировать транзакцию: %w", err)
	}

	if err := s.AutoMatch(ctx); err != nil {
		log.Printf("ошибка пересчета кандидатных пар после изменения операции %d: %v", id, err)
	}

	return nil
}

// findTipoOperacion определяет, envío это или recepción.
func (s *Storage) findTipoOperacion(ctx context.Context, id int64) (models.TipoOperacion, error) {
	var found int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM envios WHERE id = ?", id).Scan(&found)
	if err == nil {
		return models.TipoEnvio, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("ошибка поиска операции %d: %w", id, err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT id FROM recepciones WHERE id = ?", id).Scan(&found)
	if err == nil {
		return models.TipoRecepcion, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("ошибка поиска операции %d: %w", id, err)
	}
	return "", &TransitionError{Code: CodeOperacionNotFound, ID: id, OriginalErr: ErrOperacionNotFound}
}

// GetLastOperaciones возвращает limit последних операций данного типа
// со странами, от новых к старым.
func (s *Storage) GetLastOperaciones(ctx context.Context, tipo models.TipoOperacion, limit int) ([]models.Operacion, error) {
	opsTable, paisesTable, fkColumn, err := tablesFor(tipo)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT o.id, o.monto, o.estado, o.fecha_hora, GROUP_CONCAT(p.pais)
		FROM %s o
		LEFT JOIN %s p ON p.%s = o.id
		GROUP BY o.id
		ORDER BY o.id DESC
		LIMIT ?`, opsTable, paisesTable, fkColumn)

	return s.queryOperaciones(ctx, query, limit)
}

// getOperacionesDisponibles возвращает DISPONIBLE-операции типа со странами.
func (s *Storage) getOperacionesDisponibles(ctx context.Context, tipo models.TipoOperacion) ([]models.Operacion, error) {
	opsTable, paisesTable, fkColumn, err := tablesFor(tipo)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT o.id, o.monto, o.estado, o.fecha_hora, GROUP_CONCAT(p.pais)
		FROM %s o
		LEFT JOIN %s p ON p.%s = o.id
		WHERE o.estado = 'DISPONIBLE'
		GROUP BY o.id
		ORDER BY o.id`, opsTable, paisesTable, fkColumn)

	return s.queryOperaciones(ctx, query)
}

func (s *Storage) queryOperaciones(ctx context.Context, query string, args ...any) ([]models.Operacion, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить операции: %w", err)
	}
	defer rows.Close()

	var operaciones []models.Operacion
	for rows.Next() {
		var o models.Operacion
		var paises sql.NullString
		if err := rows.Scan(&o.ID, &o.Monto, &o.Estado, &o.FechaHora, &paises); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки операции: %w", err)
		}
		if paises.Valid {
			o.Paises = matching.SplitPaises(paises.String)
		}
		operaciones = append(operaciones, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по операциям: %w", err)
	}
	return operaciones, nil
}

// getPaisesOperacion возвращает страны одной операции.
func (s *Storage) getPaisesOperacion(ctx context.Context, paisesTable, fkColumn string, id int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT DISTINCT pais FROM %s WHERE %s = ?", paisesTable, fkColumn), id)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить страны операции %d: %w", id, err)
	}
	defer rows.Close()

	var paises []string
	for rows.Next() {
		var pais string
		if err := rows.Scan(&pais); err != nil {
			return nil, fmt.Errorf("ошибка сканирования страны операции %d: %w", id, err)
		}
		paises = append(paises, pais)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по странам операции %d: %w", id, err)
	}
	return paises, nil
}
