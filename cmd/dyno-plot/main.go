// dyno-plot renders an efficiency map for a motor preset to PNG: one
// scatter point per feasible speed/torque operating point, colored by
// efficiency. An offline characterization tool; it never touches the
// service.
//
// Usage:
//
//	dyno-plot [-motor bldc_2kw_48v] [-o efficiency.png]
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/config"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/motor"
)

func main() {
	motorID := flag.String("motor", config.DefaultMotorID, "motor preset id")
	output := flag.String("o", "efficiency.png", "output PNG path")
	list := flag.Bool("list", false, "list motor presets and exit")
	flag.Parse()

	if *list {
		for _, id := range config.MotorIDs() {
			fmt.Println(id)
		}
		return
	}

	if err := run(*motorID, *output); err != nil {
		fmt.Fprintf(os.Stderr, "dyno-plot: %v\n", err)
		os.Exit(1)
	}
}

func run(motorID, output string) error {
	preset, err := config.MotorPresetByID(motorID)
	if err != nil {
		return err
	}
	m, err := motor.New(preset.Params, true)
	if err != nil {
		return err
	}

	curve := m.EfficiencyCurve(preset.Params.RatedVoltage)
	if len(curve) == 0 {
		return fmt.Errorf("no feasible operating points for %s", motorID)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s efficiency map", preset.Name)
	p.X.Label.Text = "speed (rpm)"
	p.Y.Label.Text = "torque (Nm)"

	pts := make(plotter.XYs, len(curve))
	for i, c := range curve {
		pts[i].X = c.SpeedRPM
		pts[i].Y = c.TorqueNm
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	scatter.GlyphStyle.Radius = vg.Points(3)
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{
			Color:  efficiencyColor(curve[i].Efficiency),
			Radius: vg.Points(3),
			Shape:  draw.CircleGlyph{},
		}
	}
	p.Add(scatter)
	p.Add(plotter.NewGrid())

	return writePNG(p, output, 8, 6)
}

// efficiencyColor maps efficiency in [0,1] onto a red-to-green ramp.
func efficiencyColor(eff float64) color.Color {
	if eff < 0 {
		eff = 0
	}
	if eff > 1 {
		eff = 1
	}
	return color.RGBA{
		R: uint8(255 * (1 - eff)),
		G: uint8(255 * eff),
		B: 32,
		A: 255,
	}
}

func writePNG(p *plot.Plot, filename string, widthIn, heightIn float64) error {
	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(150),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	defer bw.Flush()

	png := vgimg.PngCanvas{Canvas: c}
	if _, err := png.WriteTo(bw); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}
