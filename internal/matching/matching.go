/*
matching содержит чистые правила сопоставления envíos и recepciones.

Пара совместима, если у операций есть хотя бы одна общая страна и суммы
проходят фильтр: отношение monto_recepcion/monto_envio в пределах 0.6–1.4
ИЛИ абсолютная разница не больше 10000. Правило намеренно мягкое: маленькие
суммы проходят по абсолютной разнице, большие — по отношению.
*/
package matching

import "strings"

const (
	RatioMin = 0.6
	RatioMax = 1.4
	// Максимальная абсолютная разница сумм (в валюте операции).
	MaxDiferencia = 10000
)

// SplitPaises разбирает строку стран через запятую: обрезает пробелы,
// переводит в верхний регистр, пустые элементы отбрасывает.
func SplitPaises(paisesStr string) []string {
	var paises []string
	for _, p := range strings.Split(paisesStr, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			paises = append(paises, p)
		}
	}
	return paises
}

// NormalizePais приводит одну страну к каноническому виду.
func NormalizePais(pais string) string {
	return strings.ToUpper(strings.TrimSpace(pais))
}

// HayPaisComun проверяет, есть ли у двух операций общая страна.
func HayPaisComun(paisesA, paisesB []string) bool {
	set := make(map[string]struct{}, len(paisesA))
	for _, p := range paisesA {
		set[p] = struct{}{}
	}
	for _, p := range paisesB {
		if _, ok := set[p]; ok {
			return true
		}
	}
	return false
}

// PaisesComunes возвращает пересечение двух списков стран,
// сохраняя порядок первого списка.
func PaisesComunes(paisesA, paisesB []string) []string {
	set := make(map[string]struct{}, len(paisesB))
	for _, p := range paisesB {
		set[p] = struct{}{}
	}
	var comunes []string
	for _, p := range paisesA {
		if _, ok := set[p]; ok {
			comunes = append(comunes, p)
		}
	}
	return comunes
}

// MontoCompatible — фильтр сумм. Границы включительные.
// При montoEnvio = 0 отношение вырождается в 0 и пара может пройти
// только по абсолютной разнице.
func MontoCompatible(montoEnvio, montoRecepcion float64) bool {
	ratio := 0.0
	if montoEnvio != 0 {
		ratio = montoRecepcion / montoEnvio
	}
	if ratio >= RatioMin && ratio <= RatioMax {
		return true
	}
	return Diferencia(montoEnvio, montoRecepcion) <= MaxDiferencia
}

// Diferencia — абсолютная разница сумм.
func Diferencia(montoEnvio, montoRecepcion float64) float64 {
	d := montoEnvio - montoRecepcion
	if d < 0 {
		return -d
	}
	return d
}

// Compatible — полный предикат совместимости пары envío/recepción.
func Compatible(montoEnvio float64, paisesEnvio []string, montoRecepcion float64, paisesRecepcion []string) bool {
	if !HayPaisComun(paisesEnvio, paisesRecepcion) {
		return false
	}
	return MontoCompatible(montoEnvio, montoRecepcion)
}
