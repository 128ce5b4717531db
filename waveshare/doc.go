// Package waveshare provides hwc.Engine implementations for Waveshare
// Modbus I/O module boards:
//
//   - AnalogOutputEngine: Modbus RTU Analog Output 8CH, an 8-channel DAC.
//     https://www.waveshare.com/wiki/Modbus_RTU_Analog_Output_8CH
//   - AnalogInputEngine: Modbus RTU Analog Input 8CH, an 8-channel ADC.
//     https://www.waveshare.com/wiki/Modbus_RTU_Analog_Input_8CH
//   - RelayEngine: Modbus POE ETH Relay, relay coils plus opto-isolated
//     digital inputs. https://www.waveshare.com/wiki/Modbus_POE_ETH_Relay
//
// Engines are instance-based and take the modbus.Client to talk through, so
// the caller chooses the transport: the analog modules are usually daisy
// chained on an RS-485 bus (modbusrtu), the relay board speaks Modbus TCP
// (modbustcp), but any Client works, including an RTU board behind a serial
// device server.
//
// All three engines follow the bank model of the boards themselves: each
// unit's full channel bank is transferred in one request starting at address
// 0x0000. A write cycle overlays the staged members onto the last bank a
// read observed, so bound-but-untouched channels keep their device values.
// Channels never read default to zero, the power-on state of the boards.
//
// Signals address their channel through a device property:
//
//	sp := hwc.NewAnalogOutput("furnace_sp",
//		hwc.WithProperties(waveshare.AOChannel{Unit: 1, Channel: 1}),
//	)
//	engine, _ := waveshare.NewAnalogOutputEngine(client)
//	group, _ := hwc.NewSignalGroup(engine, sp)
package waveshare
