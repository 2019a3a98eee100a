// Package schema loads type definitions for the data access layer from YAML documents.
//
// A document lists types with their properties and relations:
//
//	types:
//	  - name: machine
//	    properties:
//	      - name: name
//	        kind: string
//	  - name: disk
//	    source: inventory
//	    properties:
//	      - name: size
//	        kind: integer
//	        default: 0
//	      - name: status
//	        kind: enum
//	        values: [ok, failed]
//	        default: ok
//	    relations:
//	      - name: machine
//	        target: machine
//	        backref: disks
//
// Kinds are the names of hdal.Kind (integer, float, string, boolean, list, mapping, enum).
// Dynamic properties are code and are attached with a hook of NewRegistry.
package schema
