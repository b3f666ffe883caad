package main

import (
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	stsCal "sts_cal"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: sensor.API, Model: stsCal.EndstopCalibrationModel},
	)
}
