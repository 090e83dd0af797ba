package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remesas/internal/models"
	"remesas/internal/storage"
)

// Отдельная in-memory база на каждый тест.
func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Init(context.Background()))
	return s
}

func addEnvio(t *testing.T, s *storage.Storage, monto float64, paises string) int64 {
	t.Helper()
	id, err := s.AddOperacion(context.Background(), models.TipoEnvio, monto, paises)
	require.NoError(t, err)
	return id
}

func addRecepcion(t *testing.T, s *storage.Storage, monto float64, paises string) int64 {
	t.Helper()
	id, err := s.AddOperacion(context.Background(), models.TipoRecepcion, monto, paises)
	require.NoError(t, err)
	return id
}

func estadoOperacion(t *testing.T, s *storage.Storage, tipo models.TipoOperacion, id int64) models.Estado {
	t.Helper()
	operaciones, err := s.GetLastOperaciones(context.Background(), tipo, 100)
	require.NoError(t, err)
	for _, o := range operaciones {
		if o.ID == id {
			return o.Estado
		}
	}
	t.Fatalf("операция %d не найдена", id)
	return ""
}

func TestAddOperacionValidation(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.AddOperacion(ctx, models.TipoEnvio, 0, "ARGENTINA")
	assert.ErrorIs(t, err, storage.ErrMontoInvalido)

	_, err = s.AddOperacion(ctx, models.TipoEnvio, -5, "ARGENTINA")
	assert.ErrorIs(t, err, storage.ErrMontoInvalido)

	_, err = s.AddOperacion(ctx, models.TipoEnvio, 100, " , ")
	assert.ErrorIs(t, err, storage.ErrSinPaises)

	_, err = s.AddOperacion(ctx, "transferencia", 100, "ARGENTINA")
	assert.Error(t, err)
}

func TestAddOperacionDuplicado(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	addEnvio(t, s, 100, "ARGENTINA, USA")

	// Тот же набор стран в другом порядке и регистре — дубликат.
	_, err := s.AddOperacion(ctx, models.TipoEnvio, 100, "usa, argentina")
	assert.ErrorIs(t, err, storage.ErrOperacionDuplicada)

	// Другая сумма — не дубликат.
	_, err = s.AddOperacion(ctx, models.TipoEnvio, 101, "ARGENTINA, USA")
	assert.NoError(t, err)

	// Другой набор стран — не дубликат.
	_, err = s.AddOperacion(ctx, models.TipoEnvio, 100, "ARGENTINA")
	assert.NoError(t, err)

	// Recepción с теми же параметрами — другой вид, не дубликат.
	_, err = s.AddOperacion(ctx, models.TipoRecepcion, 100, "ARGENTINA, USA")
	assert.NoError(t, err)
}

func TestAutoMatchCreatesUtilizable(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	envioID := addEnvio(t, s, 1000, "ARGENTINA")
	recepcionID := addRecepcion(t, s, 1000, "ARGENTINA")

	utilizables, err := s.GetUtilizables(ctx)
	require.NoError(t, err)
	require.Len(t, utilizables, 1)

	u := utilizables[0]
	assert.Equal(t, envioID, u.EnvioID)
	assert.Equal(t, recepcionID, u.RecepcionID)
	assert.Equal(t, 1000.0, u.MontoEnvio)
	assert.Equal(t, 1000.0, u.MontoRecepcion)
	assert.Equal(t, 0.0, u.Diferencia)
	assert.Equal(t, []string{"ARGENTINA"}, u.PaisesEnvio)
	assert.Equal(t, []string{"ARGENTINA"}, u.PaisesRecepcion)
}

func TestAutoMatchCountryFilter(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	addEnvio(t, s, 1000, "ARGENTINA")
	addRecepcion(t, s, 1000, "USA")

	utilizables, err := s.GetUtilizables(ctx)
	require.NoError(t, err)
	assert.Empty(t, utilizables)
}

func TestAutoMatchIdempotente(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	addEnvio(t, s, 1000, "ARGENTINA")
	addRecepcion(t, s, 1000, "ARGENTINA")

	require.NoError(t, s.AutoMatch(ctx))
	require.NoError(t, s.AutoMatch(ctx))

	utilizables, err := s.GetUtilizables(ctx)
	require.NoError(t, err)
	assert.Len(t, utilizables, 1)
}

func TestConfirmMatch(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	envioID := addEnvio(t, s, 1000, "ARGENTINA")
	recepcionID := addRecepcion(t, s, 900, "ARGENTINA")

	utilizables, err := s.GetUtilizables(ctx)
	require.NoError(t, err)
	require.Len(t, utilizables, 1)

	require.NoError(t, s.ConfirmMatch(ctx, utilizables[0].ID))

	// Кандидатная пара удалена, появилась pendiente-пара.
	utilizables, err = s.GetUtilizables(ctx)
	require.NoError(t, err)
	assert.Empty(t, utilizables)

	pendientes, err := s.GetPendingMatches(ctx)
	require.NoError(t, err)
	require.Len(t, pendientes, 1)
	assert.Equal(t, envioID, pendientes[0].EnvioID)
	assert.Equal(t, recepcionID, pendientes[0].RecepcionID)
	assert.Equal(t, 1000.0, pendientes[0].MontoEnvio)
	assert.Equal(t, 900.0, pendientes[0].MontoRecepcion)
	assert.Equal(t, []string{"ARGENTINA"}, pendientes[0].PaisesEnvio)

	// Обе операции стали NO DISPONIBLE и пропали из доступных матчей.
	assert.Equal(t, models.EstadoNoDisponible, estadoOperacion(t, s, models.TipoEnvio, envioID))
	assert.Equal(t, models.EstadoNoDisponible, estadoOperacion(t, s, models.TipoRecepcion, recepcionID))

	available, err := s.GetAvailableMatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, available)
}

func TestConfirmMatchNotFound(t *testing.T) {
	s := newTestStorage(t)

	err := s.ConfirmMatch(context.Background(), 999)
	assert.ErrorIs(t, err, storage.ErrMatchNotFound)

	var trErr *storage.TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, storage.CodeMatchNotFound, trErr.Code)
	assert.Equal(t, int64(999), trErr.ID)
}

func TestRejectMatch(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	envioID := addEnvio(t, s, 1000, "ARGENTINA")
	recepcionID := addRecepcion(t, s, 1000, "ARGENTINA")

	utilizables, err := s.GetUtilizables(ctx)
	require.NoError(t, err)
	require.Len(t, utilizables, 1)

	require.NoError(t, s.RejectMatch(ctx, utilizables[0].ID))

	utilizables, err = s.GetUtilizables(ctx)
	require.NoError(t, err)
	assert.Empty(t, utilizables)

	// Отклонение не трогает статусы операций.
	assert.Equal(t, models.EstadoDisponible, estadoOperacion(t, s, models.TipoEnvio, envioID))
	assert.Equal(t, models.EstadoDisponible, estadoOperacion(t, s, models.TipoRecepcion, recepcionID))

	// Повторное отклонение — not found.
	err = s.RejectMatch(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrMatchNotFound)
}

func TestConcludeMatch(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	envioID := addEnvio(t, s, 1000, "ARGENTINA, USA")
	recepcionID := addRecepcion(t, s, 1000, "ARGENTINA")

	utilizables, err := s.GetUtilizables(ctx)
	require.NoError(t, err)
	require.Len(t, utilizables, 1)
	require.NoError(t, s.ConfirmMatch(ctx, utilizables[0].ID))

	pendientes, err := s.GetPendingMatches(ctx)
	require.NoError(t, err)
	require.Len(t, pendientes, 1)

	require.NoError(t, s.ConcludeMatch(ctx, pendientes[0].PendingID))

	// Pendiente удален, запись в concluidas за текущий месяц появилась.
	restantes, err := s.GetPendingMatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, restantes)

	mes := int(time.Now().Month())
	concluidas, err := s.GetConcluidasByMonth(ctx, mes)
	require.NoError(t, err)
	require.Len(t, concluidas, 1)
	assert.Equal(t, envioID, concluidas[0].EnvioID)
	assert.Equal(t, recepcionID, concluidas[0].RecepcionID)
	assert.Equal(t, []string{"ARGENTINA"}, concluidas[0].PaisesComunes)

	assert.Equal(t, models.EstadoNoDisponible, estadoOperacion(t, s, models.TipoEnvio, envioID))
	assert.Equal(t, models.EstadoNoDisponible, estadoOperacion(t, s, models.TipoRecepcion, recepcionID))

	// Повторное закрытие того же pendiente — not found: запись уже удалена.
	err = s.ConcludeMatch(ctx, pendientes[0].PendingID)
	assert.ErrorIs(t, err, storage.ErrPendienteNotFound)

	var trErr *storage.TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, storage.CodePendienteNotFound, trErr.Code)
}

func TestReactivatePending(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	envioID := addEnvio(t, s, 1000, "ARGENTINA")
	recepcionID := addRecepcion(t, s, 1000, "ARGENTINA")

	utilizables, err := s.GetUtilizables(ctx)
	require.NoError(t, err)
	require.Len(t, utilizables, 1)
	require.NoError(t, s.ConfirmMatch(ctx, utilizables[0].ID))

	require.NoError(t, s.ReactivatePending(ctx, envioID, recepcionID))

	pendientes, err := s.GetPendingMatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, pendientes)

	assert.Equal(t, models.EstadoDisponible, estadoOperacion(t, s, models.TipoEnvio, envioID))
	assert.Equal(t, models.EstadoDisponible, estadoOperacion(t, s, models.TipoRecepcion, recepcionID))

	// Кандидатная пара не восстанавливается сама по себе...
	utilizables, err = s.GetUtilizables(ctx)
	require.NoError(t, err)
	assert.Empty(t, utilizables)

	// ...но следующий пересчет находит её снова.
	require.NoError(t, s.AutoMatch(ctx))
	utilizables, err = s.GetUtilizables(ctx)
	require.NoError(t, err)
	require.Len(t, utilizables, 1)
	assert.Equal(t, envioID, utilizables[0].EnvioID)
	assert.Equal(t, recepcionID, utilizables[0].RecepcionID)
}

func TestConcluidasAppendOnly(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	envioID := addEnvio(t, s, 1000, "ARGENTINA")
	recepcionID := addRecepcion(t, s, 1000, "ARGENTINA")

	utilizables, err := s.GetUtilizables(ctx)
	require.NoError(t, err)
	require.Len(t, utilizables, 1)
	require.NoError(t, s.ConfirmMatch(ctx, utilizables[0].ID))

	pendientes, err := s.GetPendingMatches(ctx)
	require.NoError(t, err)
	require.NoError(t, s.ConcludeMatch(ctx, pendientes[0].PendingID))

	// Реактивация после закрытия не удаляет историческую запись.
	require.NoError(t, s.ReactivatePending(ctx, envioID, recepcionID))

	mes := int(time.Now().Month())
	concluidas, err := s.GetConcluidasByMonth(ctx, mes)
	require.NoError(t, err)
	assert.Len(t, concluidas, 1)
}

func TestModifyOperacion(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	envioID := addEnvio(t, s, 100000, "USA")
	recepcionID := addRecepcion(t, s, 50000, "USA")

	// ratio 0.5, разница 50000 — несовместимы.
	utilizables, err := s.GetUtilizables(ctx)
	require.NoError(t, err)
	require.Empty(t, utilizables)

	// После изменения суммы recepción пересчет находит пару.
	monto := 89000.0
	require.NoError(t, s.ModifyOperacion(ctx, recepcionID, &monto, nil))

	utilizables, err = s.GetUtilizables(ctx)
	require.NoError(t, err)
	require.Len(t, utilizables, 1)
	assert.Equal(t, envioID, utilizables[0].EnvioID)
	assert.Equal(t, 89000.0, utilizables[0].MontoRecepcion)

	// Замена набора стран целиком.
	paises := "peru, chile"
	require.NoError(t, s.ModifyOperacion(ctx, envioID, nil, &paises))
	operaciones, err := s.GetLastOperaciones(ctx, models.TipoEnvio, 1)
	require.NoError(t, err)
	require.Len(t, operaciones, 1)
	assert.ElementsMatch(t, []string{"PERU", "CHILE"}, operaciones[0].Paises)
}

func TestModifyOperacionErrores(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	envioID := addEnvio(t, s, 1000, "ARGENTINA")

	err := s.ModifyOperacion(ctx, 999, nil, nil)
	assert.NoError(t, err) // нечего менять — no-op до поиска

	monto := 500.0
	err = s.ModifyOperacion(ctx, 999, &monto, nil)
	assert.ErrorIs(t, err, storage.ErrOperacionNotFound)

	var trErr *storage.TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, storage.CodeOperacionNotFound, trErr.Code)

	malMonto := -1.0
	assert.ErrorIs(t, s.ModifyOperacion(ctx, envioID, &malMonto, nil), storage.ErrMontoInvalido)

	sinPaises := " , "
	assert.ErrorIs(t, s.ModifyOperacion(ctx, envioID, nil, &sinPaises), storage.ErrSinPaises)
}

func TestGetAvailableMatchesLimiteDosCandidatas(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	envioID := addEnvio(t, s, 1000, "ARGENTINA")
	addRecepcion(t, s, 900, "ARGENTINA")
	addRecepcion(t, s, 1000, "ARGENTINA")
	addRecepcion(t, s, 1100, "ARGENTINA")
	// Несовместимая по стране recepción в группу не попадает.
	addRecepcion(t, s, 1000, "PERU")

	available, err := s.GetAvailableMatches(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, envioID, available[0].Envio.ID)
	assert.Len(t, available[0].Candidatas, 2)
}

func TestGetPrioritizedMatchesTopCinco(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	// Шесть изолированных пар: у каждой своя страна.
	paises := []string{"P1", "P2", "P3", "P4", "P5", "P6"}
	var envioIDs []int64
	for i, p := range paises {
		envioIDs = append(envioIDs, addEnvio(t, s, float64(1000+i), p))
		addRecepcion(t, s, float64(1000+i), p)
	}

	prioritized, err := s.GetPrioritizedMatches(ctx)
	require.NoError(t, err)
	require.Len(t, prioritized, 5)

	// Константный вес: порядок определяется id envío по возрастанию.
	for i, m := range prioritized {
		assert.Equal(t, 1, m.Prioridad)
		assert.Equal(t, envioIDs[i], m.Envio.ID)
	}
}

func TestPaisesRegistry(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	// Справочник заполняется значениями по умолчанию при Init.
	assert.Equal(t, []string{"ARGENTINA", "USA"}, s.GetPaises(ctx))

	paises := s.AddPais(ctx, "  peru ")
	assert.Equal(t, []string{"ARGENTINA", "USA", "PERU"}, paises)

	// Повторное добавление идемпотентно.
	paises = s.AddPais(ctx, "PERU")
	assert.Len(t, paises, 3)

	// Пустое имя — no-op.
	paises = s.AddPais(ctx, "   ")
	assert.Len(t, paises, 3)
}

func TestGetLastOperaciones(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	addEnvio(t, s, 100, "ARGENTINA")
	id2 := addEnvio(t, s, 200, "ARGENTINA")
	id3 := addEnvio(t, s, 300, "ARGENTINA")

	operaciones, err := s.GetLastOperaciones(ctx, models.TipoEnvio, 2)
	require.NoError(t, err)
	require.Len(t, operaciones, 2)
	assert.Equal(t, id3, operaciones[0].ID)
	assert.Equal(t, id2, operaciones[1].ID)
}

func TestGetOperacionesByMonth(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	addEnvio(t, s, 1000, "ARGENTINA")

	mes := int(time.Now().Month())
	operaciones, err := s.GetOperacionesByMonth(ctx, models.TipoEnvio, mes)
	require.NoError(t, err)
	assert.Len(t, operaciones, 1)

	otroMes := mes%12 + 1
	operaciones, err = s.GetOperacionesByMonth(ctx, models.TipoEnvio, otroMes)
	require.NoError(t, err)
	assert.Empty(t, operaciones)

	_, err = s.GetOperacionesByMonth(ctx, models.TipoEnvio, 13)
	assert.Error(t, err)
}

func TestErroresNoEncontradoMensaje(t *testing.T) {
	s := newTestStorage(t)

	err := s.ConfirmMatch(context.Background(), 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "42")

	err = s.ConcludeMatch(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "7")
}
