package sensors

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"enviroctl/internal/config"
	"enviroctl/internal/models"
)

func testMQTTSensor(staleness time.Duration) *MQTTSensor {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	return &MQTTSensor{
		id:        "sensor1",
		topic:     "zigbee2mqtt/tent_climate",
		property:  "value",
		staleness: staleness,
		reading:   models.NewReading(),
		logger:    logger,
	}
}

func TestMQTTSensor_ReadBeforeAnyMessage(t *testing.T) {
	sensor := testMQTTSensor(time.Minute)

	values, err := sensor.Read(context.Background())

	assert.NoError(t, err)
	assert.Nil(t, values)
}

func TestMQTTSensor_ScalarPayloadUsesConfiguredProperty(t *testing.T) {
	sensor := testMQTTSensor(time.Minute)
	sensor.property = "temperature"

	sensor.handleMessage([]byte(" 21.5 "))

	values, err := sensor.Read(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, map[string]float64{"temperature": 21.5}, values)
}

func TestMQTTSensor_ObjectPayloadKeepsNumericFields(t *testing.T) {
	sensor := testMQTTSensor(time.Minute)

	sensor.handleMessage([]byte(`{"temperature": 21.5, "humidity": 60, "battery_low": false, "status": "ok"}`))

	values, err := sensor.Read(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, map[string]float64{"temperature": 21.5, "humidity": 60}, values)
}

func TestMQTTSensor_MalformedPayloadKeepsLastReading(t *testing.T) {
	sensor := testMQTTSensor(time.Minute)

	sensor.handleMessage([]byte(`{"temperature": 20}`))
	sensor.handleMessage([]byte("not json"))
	sensor.handleMessage([]byte(""))

	values, err := sensor.Read(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, map[string]float64{"temperature": 20.0}, values)
}

func TestMQTTSensor_StaleReadingTreatedAsMissing(t *testing.T) {
	sensor := testMQTTSensor(10 * time.Millisecond)

	sensor.handleMessage([]byte(`{"temperature": 20}`))
	time.Sleep(25 * time.Millisecond)

	values, err := sensor.Read(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, values)
}

func TestMock_ReturnsCopy(t *testing.T) {
	sensor := NewMock(config.SensorConfig{ID: "sensor1"})
	sensor.SetReading("temperature", 25)

	values, err := sensor.Read(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 25.0, values["temperature"])

	// Mutating the returned map must not leak into the sensor.
	values["temperature"] = 99
	again, err := sensor.Read(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 25.0, again["temperature"])
}
