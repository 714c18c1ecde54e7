// Package sensor holds the static vocabulary of sensor types: the payload key
// spellings each type is published under, and its display name and unit.
package sensor

import (
	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
)

const (
	FlowProduction    domain.SensorType = "flujo_produccion"
	FlowRejection     domain.SensorType = "flujo_rechazo"
	FlowRecovery      domain.SensorType = "flujo_recuperacion"
	TDS               domain.SensorType = "tds"
	LevelPurified     domain.SensorType = "electronivel_purificada"
	LevelRaw          domain.SensorType = "electronivel_cruda"
	LevelRecovered    domain.SensorType = "electronivel_recuperada"
	PurifiedTankLevel domain.SensorType = "nivel_purificada"
	RawTankLevel      domain.SensorType = "nivel_cruda"
	RawFlow           domain.SensorType = "caudal_cruda"
	RawFlowLMin       domain.SensorType = "caudal_cruda_lmin"
	RawAccumulated    domain.SensorType = "acumulado_cruda"
	PressureCO2       domain.SensorType = "presion_co2"
	PressureIn        domain.SensorType = "presion_in"
	PressureOut       domain.SensorType = "presion_out"
	Efficiency        domain.SensorType = "eficiencia"
	Lifetime          domain.SensorType = "vida"
	WaterLevel        domain.SensorType = "water_level"
	CurrentChannel1   domain.SensorType = "corriente_ch1"
	CurrentChannel2   domain.SensorType = "corriente_ch2"
	CurrentChannel3   domain.SensorType = "corriente_ch3"
	CurrentChannel4   domain.SensorType = "corriente_ch4"
	CurrentTotal      domain.SensorType = "corriente_total"
)

// Definition describes one canonical sensor type.
type Definition struct {
	Type domain.SensorType
	Name string
	Unit string
	// Keys are the accepted payload spellings in lookup order: canonical
	// snake_case first, then legacy and labeled forms.
	Keys []string
}

// Catalog is the ordered vocabulary. Order is the fan-out order of a message.
var Catalog = []Definition{
	{FlowProduction, "Flujo Producción", "L/min", []string{"flujo_produccion", "caudal_purificada", "CAUDAL PURIFICADA"}},
	{FlowRejection, "Flujo Rechazo", "L/min", []string{"flujo_rechazo", "caudal_rechazo", "CAUDAL RECHAZO"}},
	{FlowRecovery, "Flujo Recuperación", "L/min", []string{"flujo_recuperacion", "caudal_recuperacion", "CAUDAL RECUPERACION"}},
	{TDS, "TDS", "ppm", []string{"tds", "TDS"}},
	{LevelPurified, "Nivel Purificada", "%", []string{"electronivel_purificada", "porcentaje_nivel_purificada", "PORCENTAJE NIVEL PURIFICADA", "NIVEL PURIFICADA"}},
	{LevelRaw, "Nivel Cruda", "%", []string{"electronivel_cruda", "porcentaje_nivel_cruda", "PORCENTAJE NIVEL CRUDA", "NIVEL CRUDA"}},
	{LevelRecovered, "Nivel Recuperada", "%", []string{"electronivel_recuperada", "porcentaje_nivel_recuperada", "PORCENTAJE NIVEL RECUPERADA"}},
	{PurifiedTankLevel, "Nivel Tanque Purificada", "cm", []string{"nivel_purificada"}},
	{RawTankLevel, "Nivel Tanque Cruda", "cm", []string{"nivel_cruda"}},
	{RawFlow, "Caudal Cruda", "L/min", []string{"caudal_cruda", "CAUDAL CRUDA"}},
	{RawFlowLMin, "Caudal Cruda (L/min)", "L/min", []string{"caudal_cruda_lmin", "CAUDAL CRUDA LMIN"}},
	{RawAccumulated, "Acumulado Cruda", "L", []string{"acumulado_cruda", "ACUMULADO CRUDA"}},
	{PressureCO2, "Presión CO2", "PSI", []string{"presion_co2", "PRESION CO2"}},
	{PressureIn, "Presión Entrada", "PSI", []string{"presion_in", "pressure_in", "PRESION IN"}},
	{PressureOut, "Presión Salida", "PSI", []string{"presion_out", "pressure_out", "PRESION OUT"}},
	{Efficiency, "Eficiencia", "%", []string{"eficiencia", "EFICIENCIA"}},
	{Lifetime, "Vida", "días", []string{"vida", "VIDA"}},
	{WaterLevel, "Nivel de Agua", "%", []string{"water_level", "WATER LEVEL"}},
	{CurrentChannel1, "Corriente Canal 1", "A", []string{"corriente_ch1", "ch1", "CH1"}},
	{CurrentChannel2, "Corriente Canal 2", "A", []string{"corriente_ch2", "ch2", "CH2"}},
	{CurrentChannel3, "Corriente Canal 3", "A", []string{"corriente_ch3", "ch3", "CH3"}},
	{CurrentChannel4, "Corriente Canal 4", "A", []string{"corriente_ch4", "ch4", "CH4"}},
	{CurrentTotal, "Corriente Total", "A", []string{"corriente_total", "total_corriente", "CORRIENTE TOTAL"}},
}

var byType = func() map[domain.SensorType]Definition {
	m := make(map[domain.SensorType]Definition, len(Catalog))
	for _, def := range Catalog {
		m[def.Type] = def
	}
	return m
}()

var knownKeys = func() map[string]domain.SensorType {
	m := make(map[string]domain.SensorType)
	for _, def := range Catalog {
		for _, key := range def.Keys {
			m[key] = def.Type
		}
	}
	return m
}()

// Lookup returns the definition of a sensor type.
func Lookup(t domain.SensorType) (Definition, bool) {
	def, ok := byType[t]
	return def, ok
}

// Unit returns the default unit of a sensor type, or "" if unknown.
func Unit(t domain.SensorType) string {
	return byType[t].Unit
}

// Name returns the display name of a sensor type, falling back to the type itself.
func Name(t domain.SensorType) string {
	if def, ok := byType[t]; ok {
		return def.Name
	}
	return string(t)
}

// IsMetricKey reports whether a raw payload key is one of the accepted spellings.
func IsMetricKey(key string) bool {
	_, ok := knownKeys[key]
	return ok
}
