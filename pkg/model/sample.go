package model

// Sample is one decoded Forza "Data Out" packet in Horizon layout.
// Field order matches the wire layout (little endian, packed) and defines the
// column order of recorded session files. Blank fields are skipped on decode
// and are not exported as columns.
//
//nolint:lll // readablity
type Sample struct {
	IsRaceOn    int32  `csv:"is_race_on"`   // 1 while in a race context, 0 in menus/paused
	TimestampMS uint32 `csv:"timestamp_ms"` // wraps around

	EngineMaxRpm     float32 `csv:"engine_max_rpm"`
	EngineIdleRpm    float32 `csv:"engine_idle_rpm"`
	CurrentEngineRpm float32 `csv:"current_engine_rpm"`

	// car local space: X = right, Y = up, Z = forward
	AccelerationX float32 `csv:"acceleration_x"`
	AccelerationY float32 `csv:"acceleration_y"`
	AccelerationZ float32 `csv:"acceleration_z"`

	VelocityX float32 `csv:"velocity_x"`
	VelocityY float32 `csv:"velocity_y"`
	VelocityZ float32 `csv:"velocity_z"`

	AngularVelocityX float32 `csv:"angular_velocity_x"` // pitch
	AngularVelocityY float32 `csv:"angular_velocity_y"` // yaw
	AngularVelocityZ float32 `csv:"angular_velocity_z"` // roll

	Yaw   float32 `csv:"yaw"`
	Pitch float32 `csv:"pitch"`
	Roll  float32 `csv:"roll"`

	// 0.0 = max stretch, 1.0 = max compression
	NormalizedSuspensionTravelFrontLeft  float32 `csv:"norm_suspension_travel_fl"`
	NormalizedSuspensionTravelFrontRight float32 `csv:"norm_suspension_travel_fr"`
	NormalizedSuspensionTravelRearLeft   float32 `csv:"norm_suspension_travel_rl"`
	NormalizedSuspensionTravelRearRight  float32 `csv:"norm_suspension_travel_rr"`

	// 0 = 100% grip, |ratio| > 1.0 = loss of grip
	TireSlipRatioFrontLeft  float32 `csv:"tire_slip_ratio_fl"`
	TireSlipRatioFrontRight float32 `csv:"tire_slip_ratio_fr"`
	TireSlipRatioRearLeft   float32 `csv:"tire_slip_ratio_rl"`
	TireSlipRatioRearRight  float32 `csv:"tire_slip_ratio_rr"`

	// radians/sec
	WheelRotationSpeedFrontLeft  float32 `csv:"wheel_rotation_speed_fl"`
	WheelRotationSpeedFrontRight float32 `csv:"wheel_rotation_speed_fr"`
	WheelRotationSpeedRearLeft   float32 `csv:"wheel_rotation_speed_rl"`
	WheelRotationSpeedRearRight  float32 `csv:"wheel_rotation_speed_rr"`

	WheelOnRumbleStripFrontLeft  int32 `csv:"wheel_on_rumble_strip_fl"`
	WheelOnRumbleStripFrontRight int32 `csv:"wheel_on_rumble_strip_fr"`
	WheelOnRumbleStripRearLeft   int32 `csv:"wheel_on_rumble_strip_rl"`
	WheelOnRumbleStripRearRight  int32 `csv:"wheel_on_rumble_strip_rr"`

	WheelInPuddleDepthFrontLeft  float32 `csv:"wheel_in_puddle_depth_fl"`
	WheelInPuddleDepthFrontRight float32 `csv:"wheel_in_puddle_depth_fr"`
	WheelInPuddleDepthRearLeft   float32 `csv:"wheel_in_puddle_depth_rl"`
	WheelInPuddleDepthRearRight  float32 `csv:"wheel_in_puddle_depth_rr"`

	SurfaceRumbleFrontLeft  float32 `csv:"surface_rumble_fl"`
	SurfaceRumbleFrontRight float32 `csv:"surface_rumble_fr"`
	SurfaceRumbleRearLeft   float32 `csv:"surface_rumble_rl"`
	SurfaceRumbleRearRight  float32 `csv:"surface_rumble_rr"`

	TireSlipAngleFrontLeft  float32 `csv:"tire_slip_angle_fl"`
	TireSlipAngleFrontRight float32 `csv:"tire_slip_angle_fr"`
	TireSlipAngleRearLeft   float32 `csv:"tire_slip_angle_rl"`
	TireSlipAngleRearRight  float32 `csv:"tire_slip_angle_rr"`

	TireCombinedSlipFrontLeft  float32 `csv:"tire_combined_slip_fl"`
	TireCombinedSlipFrontRight float32 `csv:"tire_combined_slip_fr"`
	TireCombinedSlipRearLeft   float32 `csv:"tire_combined_slip_rl"`
	TireCombinedSlipRearRight  float32 `csv:"tire_combined_slip_rr"`

	// meters
	SuspensionTravelMetersFrontLeft  float32 `csv:"suspension_travel_m_fl"`
	SuspensionTravelMetersFrontRight float32 `csv:"suspension_travel_m_fr"`
	SuspensionTravelMetersRearLeft   float32 `csv:"suspension_travel_m_rl"`
	SuspensionTravelMetersRearRight  float32 `csv:"suspension_travel_m_rr"`

	CarOrdinal          int32 `csv:"car_ordinal"`
	CarClass            int32 `csv:"car_class"` // 0 (D) .. 7 (X)
	CarPerformanceIndex int32 `csv:"car_performance_index"`
	DrivetrainType      int32 `csv:"drivetrain_type"` // 0 = FWD, 1 = RWD, 2 = AWD
	NumCylinders        int32 `csv:"num_cylinders"`

	_ [12]byte // horizon specific, undocumented

	PositionX float32 `csv:"position_x"`
	PositionY float32 `csv:"position_y"`
	PositionZ float32 `csv:"position_z"`

	Speed  float32 `csv:"speed"`  // m/s
	Power  float32 `csv:"power"`  // watts
	Torque float32 `csv:"torque"` // Nm

	TireTempFrontLeft  float32 `csv:"tire_temp_fl"`
	TireTempFrontRight float32 `csv:"tire_temp_fr"`
	TireTempRearLeft   float32 `csv:"tire_temp_rl"`
	TireTempRearRight  float32 `csv:"tire_temp_rr"`

	Boost            float32 `csv:"boost"`
	Fuel             float32 `csv:"fuel"`
	DistanceTraveled float32 `csv:"distance_traveled"`
	BestLap          float32 `csv:"best_lap"`
	LastLap          float32 `csv:"last_lap"`
	CurrentLap       float32 `csv:"current_lap"`
	CurrentRaceTime  float32 `csv:"current_race_time"`

	LapNumber    uint16 `csv:"lap_number"`
	RacePosition uint8  `csv:"race_position"` // 0 while not actively racing
	Accel        uint8  `csv:"accel"`
	Brake        uint8  `csv:"brake"`
	Clutch       uint8  `csv:"clutch"`
	HandBrake    uint8  `csv:"hand_brake"`
	Gear         uint8  `csv:"gear"`

	Steer                       int8 `csv:"steer"`
	NormalizedDrivingLine       int8 `csv:"normalized_driving_line"`
	NormalizedAIBrakeDifference int8 `csv:"normalized_ai_brake_difference"`

	_ [1]byte
}

type Vehicle struct {
	Class   int32
	Ordinal int32
}

func (s *Sample) RaceActive() bool {
	return s.IsRaceOn != 0
}

func (s *Sample) TrackPosition() uint8 {
	return s.RacePosition
}

func (s *Sample) Vehicle() Vehicle {
	return Vehicle{Class: s.CarClass, Ordinal: s.CarOrdinal}
}
