// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
Package schema 声明并校验任务、工具与 flow 之间传递的结构化数据。

# 概述

Schema 支持 string / integer / number / boolean 四种基本类型，
以及嵌套 object 与同构 array。校验结果要么是规范化后的值，
要么是带路径的 *SchemaError{Path, Expected, Actual}。

# 保证

  - 校验是全函数：任意输入都不会 panic
  - 默认拒绝未声明字段（Extra 可放开）
  - 缺省的可选字段取声明的默认值
  - 不做数值强制转换：integer 字段拒绝 "3" 与 3.5

# 导出与互操作

  - JSONSchema()：导出函数调用 API 使用的 JSON Schema 方言
  - Parse / FromMap：读取同一方言（声明式 YAML 配置使用）
  - Compile()：使用标准 JSON Schema 实现编译导出结果
  - FromStruct / For[T]：从 Go 结构体反射生成 Schema
*/
package schema
