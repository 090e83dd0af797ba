package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPaises(t *testing.T) {
	assert.Equal(t, []string{"ARGENTINA", "USA"}, SplitPaises("argentina, usa"))
	assert.Equal(t, []string{"ARGENTINA"}, SplitPaises("  Argentina  "))
	assert.Equal(t, []string{"ARGENTINA", "USA"}, SplitPaises("ARGENTINA,, ,USA"))
	assert.Nil(t, SplitPaises(""))
	assert.Nil(t, SplitPaises(" , , "))
}

func TestHayPaisComun(t *testing.T) {
	assert.True(t, HayPaisComun([]string{"ARGENTINA", "USA"}, []string{"USA"}))
	assert.False(t, HayPaisComun([]string{"ARGENTINA"}, []string{"USA"}))
	assert.False(t, HayPaisComun(nil, []string{"USA"}))
	assert.False(t, HayPaisComun([]string{"ARGENTINA"}, nil))
}

func TestPaisesComunes(t *testing.T) {
	assert.Equal(t, []string{"USA"}, PaisesComunes([]string{"ARGENTINA", "USA"}, []string{"USA", "PERU"}))
	assert.Nil(t, PaisesComunes([]string{"ARGENTINA"}, []string{"USA"}))
}

func TestMontoCompatible(t *testing.T) {
	tests := []struct {
		name       string
		montoEnvio float64
		montoRecep float64
		want       bool
	}{
		{"ratio ровно 1.4 — граница включается", 100, 140, true},
		{"ratio ровно 0.6 — граница включается", 100, 60, true},
		{"ratio 1.41, но разница 41 <= 10000", 100, 141, true},
		{"ratio 0.89 при больших суммах", 100000, 89000, true},
		{"разница ровно 10000 при ratio вне границ", 20000, 10000, true},
		{"разница 10000.01 при ratio вне границ", 20000.01, 10000, false},
		{"ratio вне границ и разница велика", 100000, 50000, false},
		{"нулевой envío проходит только по разнице", 0, 5000, true},
		{"нулевой envío и большая recepción", 0, 10000.01, false},
		{"равные суммы", 500, 500, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MontoCompatible(tt.montoEnvio, tt.montoRecep))
		})
	}
}

func TestMontoCompatibleRatioBoundary(t *testing.T) {
	// При больших суммах абсолютный фильтр не спасает: работает только ratio.
	assert.True(t, MontoCompatible(100000, 140000))  // ratio 1.4
	assert.False(t, MontoCompatible(100000, 141000)) // ratio 1.41, разница 41000
	assert.True(t, MontoCompatible(100000, 60000))   // ratio 0.6
	assert.False(t, MontoCompatible(100000, 59000))  // ratio 0.59, разница 41000
}

func TestDiferencia(t *testing.T) {
	assert.Equal(t, 40.0, Diferencia(100, 140))
	assert.Equal(t, 40.0, Diferencia(140, 100))
	assert.Equal(t, 0.0, Diferencia(7, 7))
}

func TestCompatible(t *testing.T) {
	// Без общей страны суммы не важны.
	assert.False(t, Compatible(1000, []string{"ARGENTINA"}, 1000, []string{"USA"}))
	// Общая страна + подходящие суммы.
	assert.True(t, Compatible(1000, []string{"ARGENTINA"}, 1000, []string{"ARGENTINA", "USA"}))
	// Общая страна, но суммы вне правила.
	assert.False(t, Compatible(100000, []string{"USA"}, 50000, []string{"USA"}))
}
