/*
api предоставляет HTTP-интерфейс для взаимодействия с движком сопоставления.
Он определяет маршруты и обработчики для основных операций: добавление и
изменение envíos/recepciones, просмотр доступных, приоритетных, pendiente-
и кандидатных матчей, переходы пар по жизненному циклу, справочник стран
и месячный отчет.

Key components:
  - Storage (интерфейс): Абстракция, определяющая контракт для работы с
    движком. Это позволяет отделить логику API от конкретной реализации
    хранилища, облегчая тестирование.
  - API: Основная структура, содержащая зависимость от хранилища (Storage)
    и реализующая методы-обработчики HTTP-запросов.
  - New: Конструктор для создания нового экземпляра API.
  - RegisterRoutes: Метод для регистрации всех маршрутов API с использованием роутера chi.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"remesas/internal/models"
	"remesas/internal/report"
	"remesas/internal/storage"
)

type Storage interface {
	AddOperacion(ctx context.Context, tipo models.TipoOperacion, monto float64, paisesStr string) (int64, error)
	ModifyOperacion(ctx context.Context, id int64, monto *float64, paisesStr *string) error
	GetLastOperaciones(ctx context.Context, tipo models.TipoOperacion, limit int) ([]models.Operacion, error)
	AutoMatch(ctx context.Context) error
	GetAvailableMatches(ctx context.Context) ([]models.AvailableMatch, error)
	GetPrioritizedMatches(ctx context.Context) ([]models.PrioritizedMatch, error)
	GetPendingMatches(ctx context.Context) ([]models.PendingMatch, error)
	GetUtilizables(ctx context.Context) ([]models.Utilizable, error)
	ConfirmMatch(ctx context.Context, matchID int64) error
	RejectMatch(ctx context.Context, matchID int64) error
	ConcludeMatch(ctx context.Context, pendingID int64) error
	ReactivatePending(ctx context.Context, envioID, recepcionID int64) error
	GetPaises(ctx context.Context) []string
	AddPais(ctx context.Context, raw string) []string
	GetOperacionesByMonth(ctx context.Context, tipo models.TipoOperacion, mes int) ([]models.ReporteOperacion, error)
	GetConcluidasByMonth(ctx context.Context, mes int) ([]models.ReporteConcluida, error)
}

type API struct {
	db        Storage
	reportDir string
}

func New(db Storage, reportDir string) *API {
	return &API{db: db, reportDir: reportDir}
}

func (a *API) RegisterRoutes(r *chi.Mux) {
	r.Post("/api/envios", a.AddEnvio)
	r.Post("/api/recepciones", a.AddRecepcion)
	r.Put("/api/operaciones/{id}", a.ModifyOperacion)
	r.Get("/api/operaciones/recent", a.GetLastOperaciones)

	r.Get("/api/matches/available", a.GetAvailableMatches)
	r.Get("/api/matches/prioritized", a.GetPrioritizedMatches)
	r.Get("/api/matches/pending", a.GetPendingMatches)
	r.Get("/api/matches/utilizables", a.GetUtilizables)
	r.Post("/api/matches/resweep", a.Resweep)
	r.Post("/api/matches/{id}/confirm", a.ConfirmMatch)
	r.Delete("/api/matches/{id}", a.RejectMatch)

	r.Post("/api/pendientes/{id}/conclude", a.ConcludeMatch)
	r.Post("/api/pendientes/reactivate", a.ReactivatePending)

	r.Get("/api/paises", a.GetPaises)
	r.Post("/api/paises", a.AddPais)

	r.Get("/api/report/{month}", a.GenerateReport)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Преобразует ошибку движка в HTTP-ответ.
func writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrMontoInvalido), errors.Is(err, storage.ErrSinPaises):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrOperacionDuplicada):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		var trErr *storage.TransitionError
		if errors.As(err, &trErr) {
			switch trErr.Code {
			case storage.CodeMatchNotFound, storage.CodePendienteNotFound, storage.CodeOperacionNotFound:
				http.Error(w, trErr.Error(), http.StatusNotFound)
				return
			}
		}
		http.Error(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
	}
}

func (a *API) addOperacion(w http.ResponseWriter, r *http.Request, tipo models.TipoOperacion) {
	var req models.OperacionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "неверный формат запроса", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	id, err := a.db.AddOperacion(r.Context(), tipo, req.Monto, req.Paises)
	if err != nil {
		log.Printf("ошибка добавления операции %s: %v", tipo, err)
		writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "tipo": tipo})
}

func (a *API) AddEnvio(w http.ResponseWriter, r *http.Request) {
	a.addOperacion(w, r, models.TipoEnvio)
}

func (a *API) AddRecepcion(w http.ResponseWriter, r *http.Request) {
	a.addOperacion(w, r, models.TipoRecepcion)
}

func (a *API) ModifyOperacion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "параметр 'id' должен быть числом", http.StatusBadRequest)
		return
	}

	var req models.ModifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "неверный формат запроса", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := a.db.ModifyOperacion(r.Context(), id, req.Monto, req.Paises); err != nil {
		log.Printf("ошибка изменения операции %d: %v", id, err)
		writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "операция изменена"})
}

func (a *API) GetLastOperaciones(w http.ResponseWriter, r *http.Request) {
	tipo := models.TipoOperacion(r.URL.Query().Get("tipo"))
	if tipo != models.TipoEnvio && tipo != models.TipoRecepcion {
		http.Error(w, "параметр 'tipo' должен быть envio или recepcion", http.StatusBadRequest)
		return
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "10"
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		http.Error(w, "параметр 'limit' должен быть положительным числом", http.StatusBadRequest)
		return
	}

	operaciones, err := a.db.GetLastOperaciones(r.Context(), tipo, limit)
	if err != nil {
		log.Printf("ошибка получения последних операций: %v", err)
		http.Error(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, operaciones)
}

func (a *API) GetAvailableMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := a.db.GetAvailableMatches(r.Context())
	if err != nil {
		log.Printf("ошибка получения доступных матчей: %v", err)
		http.Error(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (a *API) GetPrioritizedMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := a.db.GetPrioritizedMatches(r.Context())
	if err != nil {
		log.Printf("ошибка получения приоритетных матчей: %v", err)
		http.Error(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (a *API) GetPendingMatches(w http.ResponseWriter, r *http.Request) {
	pendientes, err := a.db.GetPendingMatches(r.Context())
	if err != nil {
		log.Printf("ошибка получения pendiente-матчей: %v", err)
		http.Error(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pendientes)
}

func (a *API) GetUtilizables(w http.ResponseWriter, r *http.Request) {
	utilizables, err := a.db.GetUtilizables(r.Context())
	if err != nil {
		log.Printf("ошибка получения кандидатных матчей: %v", err)
		http.Error(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, utilizables)
}

// Resweep — явный пересчет кандидатных пар. Нужен после реактивации:
// она сама кандидатные пары не восстанавливает.
func (a *API) Resweep(w http.ResponseWriter, r *http.Request) {
	if err := a.db.AutoMatch(r.Context()); err != nil {
		log.Printf("ошибка пересчета кандидатных пар: %v", err)
		http.Error(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "пересчет выполнен"})
}

func (a *API) matchID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "параметр 'id' должен быть числом", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (a *API) ConfirmMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := a.matchID(w, r)
	if !ok {
		return
	}
	if err := a.db.ConfirmMatch(r.Context(), id); err != nil {
		log.Printf("ошибка подтверждения матча %d: %v", id, err)
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "матч переведен в pendiente"})
}

func (a *API) RejectMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := a.matchID(w, r)
	if !ok {
		return
	}
	if err := a.db.RejectMatch(r.Context(), id); err != nil {
		log.Printf("ошибка отклонения матча %d: %v", id, err)
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "матч отклонен"})
}

func (a *API) ConcludeMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := a.matchID(w, r)
	if !ok {
		return
	}
	if err := a.db.ConcludeMatch(r.Context(), id); err != nil {
		log.Printf("ошибка закрытия pendiente %d: %v", id, err)
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pendiente закрыт и перенесен в concluidas"})
}

func (a *API) ReactivatePending(w http.ResponseWriter, r *http.Request) {
	var req models.ReactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "неверный формат запроса", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := a.db.ReactivatePending(r.Context(), req.EnvioID, req.RecepcionID); err != nil {
		log.Printf("ошибка реактивации пары (%d, %d): %v", req.EnvioID, req.RecepcionID, err)
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "пара реактивирована"})
}

func (a *API) GetPaises(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.db.GetPaises(r.Context()))
}

func (a *API) AddPais(w http.ResponseWriter, r *http.Request) {
	var req models.PaisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "неверный формат запроса", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	writeJSON(w, http.StatusOK, a.db.AddPais(r.Context(), req.Nombre))
}

func (a *API) GenerateReport(w http.ResponseWriter, r *http.Request) {
	mes, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || mes < 1 || mes > 12 {
		http.Error(w, "параметр 'month' должен быть числом от 1 до 12", http.StatusBadRequest)
		return
	}

	filename, err := report.Generate(r.Context(), a.db, mes, a.reportDir)
	if err != nil {
		if errors.Is(err, report.ErrSinDatos) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "нет данных за указанный месяц, PDF не создан"})
			return
		}
		log.Printf("ошибка генерации отчета за месяц %d: %v", mes, err)
		http.Error(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "отчет создан", "file": filename})
}
