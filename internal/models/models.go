// Модели предметной области
package models

// Estado операции: DISPONIBLE, пока операция не закреплена за pendiente-парой.
type Estado string

const (
	EstadoDisponible   Estado = "DISPONIBLE"
	EstadoNoDisponible Estado = "NO DISPONIBLE"
)

// Tipo операции. Envío — исходящий перевод, recepción — входящий.
type TipoOperacion string

const (
	TipoEnvio     TipoOperacion = "envio"
	TipoRecepcion TipoOperacion = "recepcion"
)

type Operacion struct {
	ID        int64    `json:"id"`
	Monto     float64  `json:"monto"`
	Estado    Estado   `json:"estado"`
	FechaHora string   `json:"fecha_hora"`
	Paises    []string `json:"paises"`
}

// Utilizable — предложенный системой, ещё не подтверждённый матч.
// Уникален по паре (envio_id, recepcion_id).
type Utilizable struct {
	ID              int64    `json:"id"`
	EnvioID         int64    `json:"envio_id"`
	RecepcionID     int64    `json:"recepcion_id"`
	MontoEnvio      float64  `json:"monto_envio"`
	MontoRecepcion  float64  `json:"monto_recepcion"`
	Diferencia      float64  `json:"diferencia"`
	Estado          Estado   `json:"estado"`
	PaisesEnvio     []string `json:"paises_envio"`
	PaisesRecepcion []string `json:"paises_recepcion"`
	FechaHora       string   `json:"fecha_hora"`
}

// AvailableMatch — envío со списком до двух подходящих recepciones.
type AvailableMatch struct {
	Envio      Operacion   `json:"envio"`
	Candidatas []Operacion `json:"candidatas"`
}

type PrioritizedMatch struct {
	AvailableMatch
	Prioridad int `json:"prioridad"`
}

// PendingMatch — подтверждённая сотрудником пара, ожидающая закрытия.
type PendingMatch struct {
	PendingID       int64    `json:"pending_id"`
	EnvioID         int64    `json:"envio_id"`
	MontoEnvio      float64  `json:"monto_envio"`
	PaisesEnvio     []string `json:"paises_envio"`
	RecepcionID     int64    `json:"recepcion_id"`
	MontoRecepcion  float64  `json:"monto_recepcion"`
	PaisesRecepcion []string `json:"paises_recepcion"`
}

// Concluida — закрытая пара, запись только добавляется и никогда не меняется.
type Concluida struct {
	EnvioID     int64  `json:"envio_id"`
	RecepcionID int64  `json:"recepcion_id"`
	FechaHora   string `json:"fecha_hora"`
}

// Строки месячного отчёта.
type ReporteOperacion struct {
	ID        int64    `json:"id"`
	Monto     float64  `json:"monto"`
	FechaHora string   `json:"fecha_hora"`
	Paises    []string `json:"paises"`
}

type ReporteConcluida struct {
	EnvioID       int64    `json:"envio_id"`
	RecepcionID   int64    `json:"recepcion_id"`
	FechaHora     string   `json:"fecha_hora"`
	PaisesComunes []string `json:"paises_comunes"`
}

type OperacionRequest struct {
	Monto  float64 `json:"monto"`
	Paises string  `json:"paises"`
}

// ModifyRequest: nil-поле означает «не менять».
type ModifyRequest struct {
	Monto  *float64 `json:"monto,omitempty"`
	Paises *string  `json:"paises,omitempty"`
}

type ReactivateRequest struct {
	EnvioID     int64 `json:"envio_id"`
	RecepcionID int64 `json:"recepcion_id"`
}

type PaisRequest struct {
	Nombre string `json:"nombre"`
}
