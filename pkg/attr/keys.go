package attr

// Attribute keys. Names follow the wire vocabulary documented by the
// protocols this module decodes (GPS/cellular quality, fuel/engine,
// battery/power, odometer, control flags, alarms, geofence membership,
// sensors, OBD/CAN, maintenance, driver behavior, protocol/firmware
// versions, plus five free-form custom slots).
const (
	// GPS quality
	HDOP               = "hdop"
	VDOP               = "vdop"
	PDOP               = "pdop"
	Satellites         = "sat"
	SatellitesVisible  = "satVisible"
	LocationAccuracy   = "locationAccuracy"

	// Cellular / network
	RSSI        = "rssi"
	Roaming     = "roaming"
	NetworkType = "networkType"
	CellID      = "cellId"
	LAC         = "lac"
	MNC         = "mnc"
	MCC         = "mcc"

	// Fuel / engine
	FuelLevel       = "fuel"
	FuelUsed        = "fuelUsed"
	FuelConsumption = "fuelConsumption"
	RPM             = "rpm"
	EngineLoad      = "engineLoad"
	EngineTemp      = "engineTemp"
	Throttle        = "throttle"
	CoolantTemp     = "coolantTemp"
	Hours           = "hours"

	// Battery / power
	Battery        = "battery"
	BatteryLevel   = "batteryLevel"
	Power          = "power"
	Charge         = "charge"
	ExternalPower  = "externalPower"

	// Odometer / distance
	Odometer      = "odometer"
	TotalDistance = "totalDistance"
	Distance      = "distance"
	TripDistance  = "tripDistance"

	// Control flags
	Ignition       = "ignition"
	Motion         = "motion"
	Armed          = "armed"
	Blocked        = "blocked"
	Door           = "door"
	DriverUniqueID = "driverUniqueId"

	// Alarms / events
	Alarm     = "alarm"
	EventType = "eventType"

	// Geofence membership
	GeofenceIDs = "geofenceIds"

	// Environmental sensors
	Temperature = "temperature"
	Humidity    = "humidity"

	// OBD / CAN
	OBDSpeed = "obdSpeed"
	OBDRPM   = "obdRpm"
	OBDFuel  = "obdFuel"

	// Maintenance
	ServiceDue   = "serviceDue"
	TirePressure = "tirePressure"

	// Driver behavior
	HardAcceleration = "hardAcceleration"
	HardBraking      = "hardBraking"
	HardTurning      = "hardTurning"
	Idling           = "idling"
	Overspeed        = "overspeed"

	// Protocol / firmware
	ProtocolVersion = "protocolVersion"
	FirmwareVersion = "firmwareVersion"

	// Geofence attributes
	SpeedLimit      = "speedLimit"
	BufferDistance  = "bufferDistance"
	AlertEnabled    = "alertEnabled"

	// Position processing flags
	Outdated = "outdated"

	// Free-form custom slots
	Custom1 = "custom1"
	Custom2 = "custom2"
	Custom3 = "custom3"
	Custom4 = "custom4"
	Custom5 = "custom5"
)
