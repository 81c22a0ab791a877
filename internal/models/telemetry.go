package models

// DeviceType 设备类型（PicoType 1-5）
type DeviceType int

const (
	DeviceEnvironment DeviceType = 1 // 房间环境传感器
	DeviceLuggage     DeviceType = 2 // 行李标签
	DeviceUser        DeviceType = 3 // 访客
	DeviceStaff       DeviceType = 4 // 员工
	DeviceGuard       DeviceType = 5 // 保安
)

// TrackableTypes 参与房间计数的设备类型
var TrackableTypes = []DeviceType{DeviceLuggage, DeviceUser, DeviceStaff, DeviceGuard}

// Valid 检查设备类型是否在 1-5 范围内
func (t DeviceType) Valid() bool {
	return t >= DeviceEnvironment && t <= DeviceGuard
}

// Trackable 是否参与房间计数
func (t DeviceType) Trackable() bool {
	return t >= DeviceLuggage && t <= DeviceGuard
}

// String 返回规则变量使用的类型名称
func (t DeviceType) String() string {
	switch t {
	case DeviceEnvironment:
		return "environment"
	case DeviceLuggage:
		return "luggage"
	case DeviceUser:
		return "users"
	case DeviceStaff:
		return "staff"
	case DeviceGuard:
		return "guard"
	default:
		return "unknown"
	}
}

// DeviceTypeByName 根据规则变量名称查找设备类型
func DeviceTypeByName(name string) (DeviceType, bool) {
	switch name {
	case "luggage":
		return DeviceLuggage, true
	case "users":
		return DeviceUser, true
	case "staff":
		return DeviceStaff, true
	case "guard":
		return DeviceGuard, true
	default:
		return 0, false
	}
}

// DeviceReading 一条已解码的遥测消息（每条消息构造一次，处理后丢弃）
type DeviceReading struct {
	DeviceID    string
	RoomID      string
	DeviceType  DeviceType
	Data        string
	Environment *EnvironmentReading // 仅 DeviceEnvironment 时非空
}

// EnvironmentReading 房间环境传感器的一次完整读数
type EnvironmentReading struct {
	Sound       float64 `json:"sound"`
	Light       float64 `json:"light"`
	Temperature float64 `json:"temperature"`
	IAQ         float64 `json:"IAQ"`
	Pressure    float64 `json:"pressure"`
	Humidity    float64 `json:"humidity"`
}

// Attribute 按规则变量名称取环境属性值
func (e EnvironmentReading) Attribute(name string) (float64, bool) {
	switch name {
	case "sound":
		return e.Sound, true
	case "light":
		return e.Light, true
	case "temperature":
		return e.Temperature, true
	case "IAQ":
		return e.IAQ, true
	case "pressure":
		return e.Pressure, true
	case "humidity":
		return e.Humidity, true
	default:
		return 0, false
	}
}

// EnvironmentAttribute 环境属性是否存在
func EnvironmentAttribute(name string) bool {
	_, ok := EnvironmentReading{}.Attribute(name)
	return ok
}
