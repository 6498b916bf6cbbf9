// Package sensor reads 3-axis acceleration and reports it in g.
//
// Two implementations sit behind the Sensor interface: Device drives an
// MPU6050 over i2c, Simulated produces gravity-centred noise. Open resolves
// which one is used once at startup and reports it as a Capability.
package sensor
